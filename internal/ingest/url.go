package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/model"
)

// paywallMarkers are CSS class and id fragments that reliably indicate a
// hard paywall. Matched against the raw HTML, lowercased.
var paywallMarkers = []string{
	"paywall",
	"piano-offer",
	"subscriber-only",
	"regwall",
	"meteredcontent",
}

// URLIngestor fetches a URL, checks robots.txt and converts the page to
// markdown.
type URLIngestor struct {
	httpClient  *http.Client
	robots      *robotsChecker
	mdConverter *converter.Converter
	userAgent   string
	maxBytes    int64
	checkRobots bool
	logger      *zap.Logger
}

// NewURLIngestor creates a URL handler from config.
func NewURLIngestor(cfg config.IngestConfig, logger *zap.Logger) *URLIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLIngestor{
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		robots: newRobotsChecker(cfg.UserAgent, cfg.FetchTimeout),
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		userAgent:   cfg.UserAgent,
		maxBytes:    cfg.MaxBodyBytes,
		checkRobots: cfg.RespectRobots,
		logger:      logger,
	}
}

// Ingest fetches and converts one URL.
func (u *URLIngestor) Ingest(ctx context.Context, rawURL string) (*Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, model.NewIngestionError(model.ReasonUnreachableURL, "invalid url")
	}

	if u.checkRobots && !u.robots.isAllowed(ctx, rawURL) {
		return nil, model.NewIngestionError(model.ReasonRobotsDisallow, "robots.txt disallows %s", parsed.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewIngestionError(model.ReasonUnreachableURL, "create request: %v", err)
	}
	req.Header.Set("User-Agent", u.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewIngestionError(model.ReasonUnreachableURL, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewIngestionError(model.ReasonHTTPStatus, "status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !supportedContentType(contentType) {
		return nil, model.NewIngestionError(model.ReasonUnsupportedType, "%s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBytes))
	if err != nil {
		return nil, model.NewIngestionError(model.ReasonUnreachableURL, "read body: %v", err)
	}

	rawHTML := string(body)
	if hasPaywallMarker(rawHTML) {
		return nil, model.NewIngestionError(model.ReasonPaywall, "paywall marker in page")
	}

	finalURL := resp.Request.URL.String()
	markdown, err := u.mdConverter.ConvertString(rawHTML, converter.WithDomain(finalURL))
	if err != nil {
		return nil, model.NewIngestionError(model.ReasonEmptyContent, "convert: %v", err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, model.NewIngestionError(model.ReasonEmptyContent, "no text after conversion")
	}

	title, published := pageMeta(rawHTML)
	return &Document{
		Text:        markdown,
		Title:       title,
		SourceURL:   finalURL,
		PublishedAt: published,
	}, nil
}

func supportedContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, ok := range []string{"text/html", "application/xhtml+xml", "text/plain"} {
		if strings.HasPrefix(ct, ok) {
			return true
		}
	}
	return false
}

func hasPaywallMarker(rawHTML string) bool {
	lower := strings.ToLower(rawHTML)
	for _, marker := range paywallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// pageMeta pulls the title and publication date out of the document head.
// The date comes from article:published_time or a <time datetime> element;
// absence is fine, a nil date is a credibility signal downstream.
func pageMeta(rawHTML string) (string, *time.Time) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", nil
	}

	var title string
	var published *time.Time
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var prop, content string
				for _, a := range n.Attr {
					switch a.Key {
					case "property", "name":
						prop = a.Val
					case "content":
						content = a.Val
					}
				}
				if published == nil && (prop == "article:published_time" || prop == "date") {
					published = parseMetaDate(content)
				}
			case "time":
				for _, a := range n.Attr {
					if a.Key == "datetime" && published == nil {
						published = parseMetaDate(a.Val)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, published
}

func parseMetaDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// robotsChecker caches per-host robots.txt verdicts.
type robotsChecker struct {
	cache      map[string]*robotstxt.RobotsData
	mu         sync.RWMutex
	httpClient *http.Client
	userAgent  string
}

func newRobotsChecker(userAgent string, timeout time.Duration) *robotsChecker {
	return &robotsChecker{
		cache:      make(map[string]*robotstxt.RobotsData),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// isAllowed reports whether robots.txt permits fetching the URL. A
// missing or unreachable robots.txt allows by default.
func (r *robotsChecker) isAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	data, err := r.getRobotsData(ctx, parsed)
	if err != nil {
		return true
	}
	return data.TestAgent(parsed.Path, r.userAgent)
}

func (r *robotsChecker) getRobotsData(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, exists := r.cache[parsed.Host]
	r.mu.RUnlock()
	if exists {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		r.store(parsed.Host, data)
		return data, nil
	}

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, err
	}
	r.store(parsed.Host, data)
	return data, nil
}

func (r *robotsChecker) store(host string, data *robotstxt.RobotsData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[host] = data
}
