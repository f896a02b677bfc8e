package model

import "time"

// InputKind identifies what the caller submitted for verification.
type InputKind string

const (
	InputURL   InputKind = "url"
	InputText  InputKind = "text"
	InputImage InputKind = "image"
)

// Valid reports whether the kind is one of url/text/image.
func (k InputKind) Valid() bool {
	switch k {
	case InputURL, InputText, InputImage:
		return true
	}
	return false
}

// CheckStatus is the lifecycle state of a check. Transitions are monotonic
// and one-directional; a terminal status is immutable.
type CheckStatus string

const (
	StatusPending    CheckStatus = "pending"
	StatusIngesting  CheckStatus = "ingesting"
	StatusExtracting CheckStatus = "extracting"
	StatusRetrieving CheckStatus = "retrieving"
	StatusVerifying  CheckStatus = "verifying"
	StatusJudging    CheckStatus = "judging"
	StatusCompleted  CheckStatus = "completed"
	StatusFailed     CheckStatus = "failed"
)

// stageOrder maps each non-terminal status to its position in the pipeline.
var stageOrder = map[CheckStatus]int{
	StatusPending:    0,
	StatusIngesting:  1,
	StatusExtracting: 2,
	StatusRetrieving: 3,
	StatusVerifying:  4,
	StatusJudging:    5,
	StatusCompleted:  6,
}

// Terminal reports whether the status is final.
func (s CheckStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
// Legal moves are one step forward in stage order, or to failed from any
// non-terminal state. The zero-claims short-circuit goes through failed
// with ReasonNoClaims, so no skip-forward transition exists.
func (s CheckStatus) CanTransitionTo(next CheckStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := stageOrder[s]
	if !ok {
		return false
	}
	nxt, ok := stageOrder[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// ProgressPercent returns the fixed percentage reported when the check
// enters this status.
func (s CheckStatus) ProgressPercent() int {
	switch s {
	case StatusPending:
		return 0
	case StatusIngesting:
		return 10
	case StatusExtracting:
		return 30
	case StatusRetrieving:
		return 55
	case StatusVerifying:
		return 75
	case StatusJudging:
		return 90
	case StatusCompleted, StatusFailed:
		return 100
	}
	return 0
}

// CreditCost is the fixed cost of one check. Credits are debited by the
// admission collaborator before the check is enqueued and never refunded.
const CreditCost = 1

// Check is one verification request. It is created on admission, mutated
// only by the orchestrator, and never deleted by the pipeline.
type Check struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	InputKind   InputKind   `json:"input_kind"`
	Input       string      `json:"input"`
	Status      CheckStatus `json:"status"`
	Reason      Reason      `json:"reason,omitempty"`  // set when Status is failed
	Message     string      `json:"message,omitempty"` // human-readable status detail
	CreditCost  int         `json:"credit_cost"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DurationMS  int64       `json:"duration_ms,omitempty"`

	// Claims is populated on reads; the pipeline persists claims separately.
	Claims []Claim `json:"claims,omitempty"`
}
