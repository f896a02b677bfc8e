// Package queue implements the check dispatch queue on SQLite using
// visibility timeouts.
//
// A dispatched check is invisible to consumers for the visibility window
// after being claimed. The claiming worker acks it on terminal persistence;
// if the worker crashes the row reappears and another worker picks it up.
// Because a claim is one atomic UPDATE, at most one worker holds a given
// check at a time — this, plus the orchestrator's in-process active set,
// backs the at-most-one-execution-per-check guarantee. Several veridex
// processes sharing the database coordinate with no external broker.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatch is one queued check execution.
type Dispatch struct {
	CheckID   string
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed dispatch stays invisible. It must
	// exceed the per-check timeout or a slow check will be redelivered
	// while still running. Default: 240s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts. Default: 500ms.
	PollInterval time.Duration
	// MaxAttempts caps redeliveries before a dispatch is discarded.
	// 0 means unlimited. Default: 0.
	MaxAttempts int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 240 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Queue is the dispatch queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle over an already-opened database. Call
// EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// EnsureTable creates the dispatch table and index if missing.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS check_dispatches (
			check_id    TEXT PRIMARY KEY,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_dispatch_visible ON check_dispatches (visible_at);
	`)
	return err
}

// Publish enqueues a check for execution. Publishing the same check id
// twice is rejected by the primary key — a duplicate dispatch must not
// run twice.
func (q *Queue) Publish(ctx context.Context, checkID string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO check_dispatches (check_id, visible_at, created_at) VALUES (?,?,?)`,
		checkID, now, now,
	)
	if err != nil {
		return fmt.Errorf("queue publish %s: %w", checkID, err)
	}
	return nil
}

// Claim atomically picks the oldest visible dispatch and hides it for the
// visibility window. Returns nil, nil when nothing is available.
func (q *Queue) Claim(ctx context.Context) (*Dispatch, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE check_dispatches
		SET visible_at = ?, attempts = attempts + 1
		WHERE check_id = (
			SELECT check_id FROM check_dispatches
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING check_id, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var d Dispatch
	var visAt, creAt int64
	err := row.Scan(&d.CheckID, &visAt, &creAt, &d.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	d.VisibleAt = time.UnixMilli(visAt)
	d.CreatedAt = time.UnixMilli(creAt)
	return &d, nil
}

// Ack removes a dispatch whose check reached a terminal status.
func (q *Queue) Ack(ctx context.Context, checkID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM check_dispatches WHERE check_id = ?`, checkID)
	return err
}

// Nack makes a dispatch immediately visible again.
func (q *Queue) Nack(ctx context.Context, checkID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE check_dispatches SET visible_at = 0 WHERE check_id = ?`, checkID)
	return err
}

// Extend pushes the visibility window forward for a check that needs more
// time (heartbeat pattern).
func (q *Queue) Extend(ctx context.Context, checkID string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE check_dispatches SET visible_at = ? WHERE check_id = ?`, hideUntil, checkID)
	return err
}

// Len returns the number of dispatches, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM check_dispatches`).Scan(&n)
	return n, err
}

// Handler executes one claimed dispatch. Return nil to ack, non-nil to
// nack for redelivery.
type Handler func(ctx context.Context, d *Dispatch) error

// Run polls for visible dispatches and executes them with bounded
// concurrency. It blocks until ctx is cancelled, draining in-flight
// handlers before returning.
func (q *Queue) Run(ctx context.Context, workers int, handler Handler) {
	log := q.opts.Logger
	log.Info("queue: consumer started",
		zap.Int("workers", workers),
		zap.Duration("visibility", q.opts.Visibility),
		zap.Duration("poll", q.opts.PollInterval),
	)

	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("queue: consumer stopping, draining in-flight checks")
			wg.Wait()
			log.Info("queue: consumer stopped")
			return
		case <-ticker.C:
			q.drain(ctx, sem, &wg, handler)
		}
	}
}

// drain claims dispatches until none are visible or all workers are busy.
func (q *Queue) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup, handler Handler) {
	log := q.opts.Logger
	for {
		// Acquire a worker slot before claiming, so a claim never sits
		// invisible waiting for capacity.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		default:
			return // all workers busy; next tick retries
		}

		d, err := q.Claim(ctx)
		if err != nil {
			<-sem
			if ctx.Err() == nil {
				log.Warn("queue: claim failed", zap.Error(err))
			}
			return
		}
		if d == nil {
			<-sem
			return // nothing visible
		}

		if q.opts.MaxAttempts > 0 && d.Attempts > q.opts.MaxAttempts {
			log.Warn("queue: dispatch exceeded max attempts, discarding",
				zap.String("check_id", d.CheckID), zap.Int("attempts", d.Attempts))
			_ = q.Ack(ctx, d.CheckID)
			<-sem
			continue
		}

		wg.Add(1)
		go func(d *Dispatch) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := handler(ctx, d); err != nil {
				log.Warn("queue: handler failed, nacking",
					zap.String("check_id", d.CheckID), zap.Error(err))
				_ = q.Nack(context.Background(), d.CheckID)
				return
			}
			_ = q.Ack(context.Background(), d.CheckID)
		}(d)
	}
}
