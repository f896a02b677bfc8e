package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TemplateProvider queries any JSON search API described by a URL
// template with a {query} placeholder. The response must be either a JSON
// array of {title,url,snippet,published} objects or an object with a
// top-level "results" array of the same shape.
type TemplateProvider struct {
	name        string
	urlTemplate string
	apiKey      string
	httpClient  *http.Client
}

// NewTemplateProvider creates a config-driven backend. The API key, when
// set, is sent as a bearer token.
func NewTemplateProvider(name, urlTemplate, apiKey string, client *http.Client) *TemplateProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &TemplateProvider{name: name, urlTemplate: urlTemplate, apiKey: apiKey, httpClient: client}
}

// Name implements Provider.
func (p *TemplateProvider) Name() string { return p.name }

type templateResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Published string `json:"published"`
}

// Search implements Provider.
func (p *TemplateProvider) Search(ctx context.Context, query string, c Constraints) ([]Result, error) {
	searchURL := strings.ReplaceAll(p.urlTemplate, "{query}", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", p.name, err)
	}

	var raw []templateResult
	if err := json.Unmarshal(body, &raw); err != nil {
		var wrapped struct {
			Results []templateResult `json:"results"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", p.name, err)
		}
		raw = wrapped.Results
	}

	if c.MaxResults > 0 && len(raw) > c.MaxResults {
		raw = raw[:c.MaxResults]
	}
	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Snippet,
			Published: parseDate(r.Published),
		})
	}
	return results, nil
}
