// Package store is the data access layer for checks, claims and evidence.
//
// The store never enforces pipeline policy: status transition legality is
// the orchestrator's job. It does guarantee that terminal rows are not
// overwritten, which backs the immutability invariant.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veridexlabs/veridex/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrTerminal is returned when an update targets a check that already
// reached a terminal status.
var ErrTerminal = errors.New("store: check is terminal")

// Store wraps the veridex database.
type Store struct {
	db *sql.DB
}

// New creates a Store from an already-opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle so the queue can share the same file.
func (s *Store) DB() *sql.DB { return s.db }

// CreateCheck inserts a new pending check.
func (s *Store) CreateCheck(ctx context.Context, c *model.Check) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checks (id, user_id, input_kind, input, status, credit_cost, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.UserID, string(c.InputKind), c.Input, string(c.Status), c.CreditCost, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create check: %w", err)
	}
	return nil
}

// UpdateCheckStatus moves a check to a new non-terminal status. Updates
// against terminal rows are rejected with ErrTerminal.
func (s *Store) UpdateCheckStatus(ctx context.Context, id string, status model.CheckStatus, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checks SET status = ?, message = ?
		WHERE id = ? AND status NOT IN ('completed','failed')`,
		string(status), message, id,
	)
	if err != nil {
		return fmt.Errorf("update check status: %w", err)
	}
	return s.checkUpdated(ctx, res, id)
}

// FinishCheck records a terminal status with reason, completion time and
// duration. It is a no-op returning ErrTerminal if the check already
// terminated — terminal statuses are immutable.
func (s *Store) FinishCheck(ctx context.Context, id string, status model.CheckStatus, reason model.Reason, message string, completedAt time.Time, duration time.Duration) error {
	if !status.Terminal() {
		return fmt.Errorf("finish check: %s is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE checks SET status = ?, reason = ?, message = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status NOT IN ('completed','failed')`,
		string(status), string(reason), message, completedAt.UnixMilli(), duration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("finish check: %w", err)
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM checks WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("probe check: %w", err)
		}
		return ErrTerminal
	}
	return nil
}

// GetCheckStatus reads just the current status. The read is idempotent and
// used for progress reconciliation by late subscribers.
func (s *Store) GetCheckStatus(ctx context.Context, id string) (model.CheckStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM checks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get check status: %w", err)
	}
	return model.CheckStatus(status), nil
}

// GetCheck loads a check with its nested claims and evidence.
func (s *Store) GetCheck(ctx context.Context, id string) (*model.Check, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, input_kind, input, status, reason, message, credit_cost, created_at, completed_at, duration_ms
		FROM checks WHERE id = ?`, id)

	var c model.Check
	var kind, status, reason string
	var createdAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&c.ID, &c.UserID, &kind, &c.Input, &status, &reason, &c.Message, &c.CreditCost, &createdAt, &completedAt, &c.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get check: %w", err)
	}
	c.InputKind = model.InputKind(kind)
	c.Status = model.CheckStatus(status)
	c.Reason = model.Reason(reason)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		c.CompletedAt = &t
	}

	claims, err := s.claimsForCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Claims = claims
	return &c, nil
}

// CreateClaims inserts the extracted claims for a check in one transaction.
func (s *Store) CreateClaims(ctx context.Context, claims []model.Claim) error {
	if len(claims) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create claims: begin: %w", err)
	}
	defer tx.Rollback()

	for _, cl := range claims {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO claims (id, check_id, ordinal, text) VALUES (?,?,?,?)`,
			cl.ID, cl.CheckID, cl.Ordinal, cl.Text,
		); err != nil {
			return fmt.Errorf("create claim %d: %w", cl.Ordinal, err)
		}
	}
	return tx.Commit()
}

// UpdateClaimVerdict records the judgment for one claim.
func (s *Store) UpdateClaimVerdict(ctx context.Context, claimID string, verdict model.Verdict, confidence int, rationale string, degraded bool) error {
	deg := 0
	if degraded {
		deg = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE claims SET verdict = ?, confidence = ?, rationale = ?, degraded = ?
		WHERE id = ?`,
		string(verdict), confidence, rationale, deg, claimID,
	)
	if err != nil {
		return fmt.Errorf("update claim verdict: %w", err)
	}
	return nil
}

// CreateEvidence inserts retrieved evidence rows for a claim.
func (s *Store) CreateEvidence(ctx context.Context, items []model.Evidence) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create evidence: begin: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range items {
		var published any
		if ev.PublishedAt != nil {
			published = ev.PublishedAt.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evidence (id, claim_id, source, url, title, snippet, published_at, relevance, credibility, provider)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			ev.ID, ev.ClaimID, ev.Source, ev.URL, ev.Title, ev.Snippet, published, ev.Relevance, ev.Credibility, ev.Provider,
		); err != nil {
			return fmt.Errorf("create evidence for claim %s: %w", ev.ClaimID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) claimsForCheck(ctx context.Context, checkID string) ([]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, ordinal, text, verdict, confidence, rationale, degraded
		FROM claims WHERE check_id = ? ORDER BY ordinal`, checkID)
	if err != nil {
		return nil, fmt.Errorf("claims for check: %w", err)
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var cl model.Claim
		var verdict string
		var degraded int
		if err := rows.Scan(&cl.ID, &cl.CheckID, &cl.Ordinal, &cl.Text, &verdict, &cl.Confidence, &cl.Rationale, &degraded); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		cl.Verdict = model.Verdict(verdict)
		cl.Degraded = degraded != 0
		claims = append(claims, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims rows: %w", err)
	}

	for i := range claims {
		ev, err := s.evidenceForClaim(ctx, claims[i].ID)
		if err != nil {
			return nil, err
		}
		claims[i].Evidence = ev
	}
	return claims, nil
}

func (s *Store) evidenceForClaim(ctx context.Context, claimID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, source, url, title, snippet, published_at, relevance, credibility, provider
		FROM evidence WHERE claim_id = ? ORDER BY credibility DESC, relevance DESC, url`, claimID)
	if err != nil {
		return nil, fmt.Errorf("evidence for claim: %w", err)
	}
	defer rows.Close()

	var items []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var published sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.Source, &ev.URL, &ev.Title, &ev.Snippet, &published, &ev.Relevance, &ev.Credibility, &ev.Provider); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if published.Valid {
			t := time.UnixMilli(published.Int64).UTC()
			ev.PublishedAt = &t
		}
		items = append(items, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence rows: %w", err)
	}
	return items, nil
}
