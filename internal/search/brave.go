package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider queries the Brave Search API.
type BraveProvider struct {
	name       string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBraveProvider creates a Brave Search backend. An empty endpoint uses
// the public API; tests point it at a local server.
func NewBraveProvider(name, apiKey, endpoint string, client *http.Client) *BraveProvider {
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &BraveProvider{name: name, apiKey: apiKey, endpoint: endpoint, httpClient: client}
}

// Name implements Provider.
func (p *BraveProvider) Name() string { return p.name }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Provider.
func (p *BraveProvider) Search(ctx context.Context, query string, c Constraints) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	if c.MaxResults > 0 {
		q.Set("count", strconv.Itoa(c.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave: status %d: %s", resp.StatusCode, body)
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}

	results := make([]Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Description,
			Published: parseDate(r.PageAge),
		})
	}
	return results, nil
}
