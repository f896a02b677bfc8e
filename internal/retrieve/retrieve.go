// Package retrieve gathers scored evidence for claims through the search
// adapter. Query formulation, scoring and ranking are deterministic so the
// same claim against the same provider responses yields the same evidence.
package retrieve

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veridexlabs/veridex/internal/metrics"
	"github.com/veridexlabs/veridex/internal/model"
	"github.com/veridexlabs/veridex/internal/search"
)

// Searcher is the slice of the adapter the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, c Constraints) (*search.Response, error)
}

// Constraints aliases the adapter's constraints type.
type Constraints = search.Constraints

// Retriever turns one claim into up to maxEvidence scored evidence items.
type Retriever struct {
	searcher    Searcher
	sanitizer   *bluemonday.Policy
	maxEvidence int
	fanout      int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates a Retriever. Metrics may be nil for one-off use.
func New(searcher Searcher, maxEvidence, fanout int, m *metrics.Metrics, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fanout <= 0 {
		fanout = 1
	}
	return &Retriever{
		searcher:    searcher,
		sanitizer:   bluemonday.StrictPolicy(),
		maxEvidence: maxEvidence,
		fanout:      fanout,
		now:         time.Now,
		metrics:     m,
		logger:      logger,
	}
}

// Retrieve gathers evidence for one claim. Provider exhaustion yields an
// empty slice, never an error: a claim without evidence is a legitimate
// outcome that degrades to an uncertain verdict downstream.
func (r *Retriever) Retrieve(ctx context.Context, claimText string) ([]model.Evidence, error) {
	query := FormulateQuery(claimText)

	resp, err := r.searcher.Search(ctx, query, Constraints{MaxResults: r.maxEvidence * 2})
	if err != nil {
		if errors.Is(err, model.ErrNoProviders) {
			if r.metrics != nil {
				r.metrics.ProviderExhausted.Inc()
			}
			r.logger.Warn("all providers exhausted, claim degrades to zero evidence",
				zap.String("query", query))
			return nil, nil
		}
		return nil, err
	}
	if resp.Fallback {
		if r.metrics != nil {
			r.metrics.ProviderFailovers.Inc()
		}
		r.logger.Info("evidence served by fallback provider",
			zap.String("provider", resp.Provider),
			zap.Int("failed_attempts", len(resp.Attempts)))
	}

	now := r.now()
	claimTokens := tokenize(claimText)

	var evidence []model.Evidence
	seen := make(map[string]bool)
	for _, hit := range resp.Results {
		canonical := canonicalURL(hit.URL)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true

		evidence = append(evidence, model.Evidence{
			Source:      sourceName(hit.URL),
			URL:         hit.URL,
			Title:       r.sanitizer.Sanitize(hit.Title),
			Snippet:     r.sanitizer.Sanitize(hit.Snippet),
			PublishedAt: hit.Published,
			Relevance:   relevance(claimTokens, hit.Title+" "+hit.Snippet),
			Credibility: Credibility(hit.URL, hit.Published, now),
			Provider:    resp.Provider,
		})
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].Credibility != evidence[j].Credibility {
			return evidence[i].Credibility > evidence[j].Credibility
		}
		if evidence[i].Relevance != evidence[j].Relevance {
			return evidence[i].Relevance > evidence[j].Relevance
		}
		return evidence[i].URL < evidence[j].URL
	})
	if len(evidence) > r.maxEvidence {
		evidence = evidence[:r.maxEvidence]
	}
	return evidence, nil
}

// RetrieveAll runs Retrieve for every claim concurrently, bounded by the
// configured fan-out. Results are positionally aligned with claims.
func (r *Retriever) RetrieveAll(ctx context.Context, claims []string) ([][]model.Evidence, error) {
	results := make([][]model.Evidence, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, claim := range claims {
		g.Go(func() error {
			ev, err := r.Retrieve(gctx, claim)
			if err != nil {
				return err
			}
			results[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// stopwords dropped during query formulation and relevance scoring.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"and": true, "or": true, "that": true, "this": true, "it": true,
	"as": true, "by": true, "with": true, "from": true, "has": true,
	"have": true, "had": true, "its": true, "their": true,
}

// FormulateQuery builds a search query from a claim. Purely mechanical:
// lowercase, strip punctuation and stopwords, keep at most twelve tokens
// in claim order. No sampling anywhere, so the query is reproducible.
func FormulateQuery(claimText string) string {
	tokens := tokenize(claimText)
	if len(tokens) > 12 {
		tokens = tokens[:12]
	}
	return strings.Join(tokens, " ")
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '.' && r != '%'
	})
	var tokens []string
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// relevance is token overlap: the fraction of claim tokens present in the
// evidence text.
func relevance(claimTokens []string, evidenceText string) float64 {
	if len(claimTokens) == 0 {
		return 0
	}
	evTokens := make(map[string]bool)
	for _, t := range tokenize(evidenceText) {
		evTokens[t] = true
	}
	matched := 0
	for _, t := range claimTokens {
		if evTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(claimTokens))
}

// canonicalURL normalizes a URL for dedupe: scheme and fragment dropped,
// host lowercased, trailing slash trimmed.
func canonicalURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimSuffix(parsed.Path, "/")
	return host + path + "?" + parsed.RawQuery
}

func sourceName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
