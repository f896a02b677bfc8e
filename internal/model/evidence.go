package model

import "time"

// Evidence is one retrieved source snippet supporting verification of a
// claim. An empty evidence set for a claim is a valid, representable state
// that drives an uncertain verdict — not a pipeline failure.
type Evidence struct {
	ID          string     `json:"id"`
	ClaimID     string     `json:"claim_id"`
	Source      string     `json:"source"` // human-readable source name (usually the host)
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"` // nil means unknown, which is a signal in itself
	Relevance   float64    `json:"relevance"`              // 0-1, query/snippet token overlap
	Credibility float64    `json:"credibility"`            // 0-1, domain tier and recency weighting
	Provider    string     `json:"provider"`               // search provider that served this result
}
