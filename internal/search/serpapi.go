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

const serpAPIEndpoint = "https://serpapi.com/search.json"

// SerpAPIProvider queries SerpAPI's Google results endpoint.
type SerpAPIProvider struct {
	name       string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewSerpAPIProvider creates a SerpAPI backend.
func NewSerpAPIProvider(name, apiKey, endpoint string, client *http.Client) *SerpAPIProvider {
	if endpoint == "" {
		endpoint = serpAPIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPIProvider{name: name, apiKey: apiKey, endpoint: endpoint, httpClient: client}
}

// Name implements Provider.
func (p *SerpAPIProvider) Name() string { return p.name }

type serpAPIResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

// Search implements Provider.
func (p *SerpAPIProvider) Search(ctx context.Context, query string, c Constraints) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("api_key", p.apiKey)
	if c.MaxResults > 0 {
		q.Set("num", strconv.Itoa(c.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serpapi: status %d: %s", resp.StatusCode, body)
	}

	var parsed serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("serpapi: decode: %w", err)
	}

	results := make([]Result, 0, len(parsed.OrganicResults))
	for _, r := range parsed.OrganicResults {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.Link,
			Snippet:   r.Snippet,
			Published: parseDate(r.Date),
		})
	}
	return results, nil
}
