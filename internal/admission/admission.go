// Package admission is the boundary to the external credit service. A
// check is only created after the gate grants it; the gate debits the
// user's credits as part of granting. Credits are never refunded, not
// even when the check later fails.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/veridexlabs/veridex/internal/config"
)

// Decision is the gate's answer for one submission.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Gate decides whether a user may start a check.
type Gate interface {
	Admit(ctx context.Context, userID string, cost int) (Decision, error)
}

// AllowAll grants everything; used when no credit service is configured
// and in tests.
type AllowAll struct{}

// Admit implements Gate.
func (AllowAll) Admit(ctx context.Context, userID string, cost int) (Decision, error) {
	return Decision{Granted: true}, nil
}

// HTTPGate asks a remote credit service. The service is the transactional
// owner of credit balances; this client never retries a grant, since a
// retry could double-debit.
type HTTPGate struct {
	url        string
	httpClient *http.Client
}

// NewHTTPGate creates a gate client from config.
func NewHTTPGate(cfg config.AdmissionConfig) *HTTPGate {
	return &HTTPGate{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// FromConfig returns an HTTPGate when a URL is configured, AllowAll
// otherwise.
func FromConfig(cfg config.AdmissionConfig) Gate {
	if cfg.URL == "" {
		return AllowAll{}
	}
	return NewHTTPGate(cfg)
}

// Admit implements Gate.
func (g *HTTPGate) Admit(ctx context.Context, userID string, cost int) (Decision, error) {
	payload, err := json.Marshal(map[string]any{
		"user_id": userID,
		"cost":    cost,
	})
	if err != nil {
		return Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("admission gate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var d Decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return Decision{}, fmt.Errorf("admission gate: decode: %w", err)
		}
		return d, nil
	case http.StatusPaymentRequired, http.StatusForbidden:
		var d Decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil || d.Reason == "" {
			d = Decision{Reason: "insufficient_credits"}
		}
		d.Granted = false
		return d, nil
	default:
		return Decision{}, fmt.Errorf("admission gate: status %d", resp.StatusCode)
	}
}
