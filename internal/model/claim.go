package model

// Verdict is the final classification of a claim.
type Verdict string

const (
	VerdictSupported    Verdict = "supported"
	VerdictContradicted Verdict = "contradicted"
	VerdictUncertain    Verdict = "uncertain"
)

// Claim is one atomic, independently verifiable assertion extracted from a
// check's content. Verdict, confidence and rationale are populated by the
// judgment stage; a claim is immutable once its check reaches a terminal
// status.
type Claim struct {
	ID         string  `json:"id"`
	CheckID    string  `json:"check_id"`
	Ordinal    int     `json:"ordinal"` // position in the extracted claim list, 0-based
	Text       string  `json:"text"`
	Verdict    Verdict `json:"verdict,omitempty"`
	Confidence int     `json:"confidence"` // 0-100
	Rationale  string  `json:"rationale,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"` // true when the verdict came from a fallback path

	// Evidence is populated on reads; the pipeline persists evidence separately.
	Evidence []Evidence `json:"evidence,omitempty"`
}
