// Package search is the evidence provider adapter: a uniform interface
// over external search backends with per-provider timeout, rate limiting
// and ordered failover.
package search

import (
	"context"
	"time"
)

// Result is one raw search hit from a backend.
type Result struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Snippet   string     `json:"snippet"`
	Published *time.Time `json:"published,omitempty"`
}

// Constraints bound one search call.
type Constraints struct {
	// MaxResults caps how many hits a provider should return.
	MaxResults int
	// SkipCache bypasses the response cache for freshness-sensitive queries.
	SkipCache bool
}

// Provider is one configured search backend.
type Provider interface {
	// Name identifies the backend in provenance records.
	Name() string
	// Search runs one query. Implementations honor ctx deadlines; the
	// adapter wraps every call in the per-provider timeout.
	Search(ctx context.Context, query string, c Constraints) ([]Result, error)
}

// Response is a served search call with its provenance. Result-set
// degradation on failover (fewer or different hits from a fallback
// backend) was a major source of run-to-run inconsistency, so the serving
// provider and every failed attempt are recorded, never hidden.
type Response struct {
	Results  []Result
	Provider string // provider that ultimately served the call
	Fallback bool   // true when the primary did not serve
	Attempts []Attempt
}

// Attempt records one failed provider try during failover.
type Attempt struct {
	Provider string
	Err      string
}

// parseDate parses the loose date formats search APIs return. Absence of
// a date is a first-class signal, so failures return nil, not an error.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
