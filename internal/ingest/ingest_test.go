package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
)

type fakeOCR struct {
	out string
	err error
}

func (f *fakeOCR) Chat(ctx context.Context, req llm.Request) (string, error) {
	return f.out, f.err
}

func testConfig() config.IngestConfig {
	cfg := config.Default().Ingest
	cfg.MinTextChars = 10
	cfg.MaxTextChars = 1000
	cfg.RespectRobots = false
	return cfg
}

func reasonOf(t *testing.T, err error) model.Reason {
	t.Helper()
	var ierr *model.IngestionError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IngestionError, got %v", err)
	}
	return ierr.Reason
}

func TestIngest_TextWithinBounds(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)

	doc, err := in.Ingest(context.Background(), model.InputText, "  the moon orbits the earth  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "the moon orbits the earth" {
		t.Errorf("expected trimmed text, got %q", doc.Text)
	}
}

func TestIngest_TextTooShort(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)

	_, err := in.Ingest(context.Background(), model.InputText, "short")
	if got := reasonOf(t, err); got != model.ReasonTooShort {
		t.Errorf("expected too_short, got %s", got)
	}
}

func TestIngest_TextTooLong(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)

	_, err := in.Ingest(context.Background(), model.InputText, strings.Repeat("a", 2000))
	if got := reasonOf(t, err); got != model.ReasonTooLong {
		t.Errorf("expected too_long, got %s", got)
	}
}

func TestIngest_URLConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
			<title>Moon Facts</title>
			<meta property="article:published_time" content="2024-03-15T10:00:00Z">
		</head><body><p>The moon orbits the earth every 27 days.</p></body></html>`))
	}))
	defer srv.Close()

	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)
	doc, err := in.Ingest(context.Background(), model.InputURL, srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Moon Facts" {
		t.Errorf("expected title, got %q", doc.Title)
	}
	if doc.PublishedAt == nil {
		t.Error("expected published date from meta tag")
	}
	if !strings.Contains(doc.Text, "27 days") {
		t.Errorf("expected body text in markdown, got %q", doc.Text)
	}
	if doc.SourceURL == "" {
		t.Error("expected final url to be recorded")
	}
}

func TestIngest_URLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)
	_, err := in.Ingest(context.Background(), model.InputURL, srv.URL)
	if got := reasonOf(t, err); got != model.ReasonHTTPStatus {
		t.Errorf("expected http_status, got %s", got)
	}
}

func TestIngest_URLUnsupportedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)
	_, err := in.Ingest(context.Background(), model.InputURL, srv.URL)
	if got := reasonOf(t, err); got != model.ReasonUnsupportedType {
		t.Errorf("expected unsupported_content_type, got %s", got)
	}
}

func TestIngest_URLPaywall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="paywall">Subscribe to continue</div></body></html>`))
	}))
	defer srv.Close()

	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)
	_, err := in.Ingest(context.Background(), model.InputURL, srv.URL)
	if got := reasonOf(t, err); got != model.ReasonPaywall {
		t.Errorf("expected paywall, got %s", got)
	}
}

func TestIngest_URLInvalid(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)
	_, err := in.Ingest(context.Background(), model.InputURL, "ftp://example.com/file")
	if got := reasonOf(t, err); got != model.ReasonUnreachableURL {
		t.Errorf("expected unreachable_url, got %s", got)
	}
}

func TestIngest_URLRobotsDisallowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/private/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>secret content here</p></body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	in := New(cfg, "ocr-model", &fakeOCR{}, nil)

	_, err := in.Ingest(context.Background(), model.InputURL, srv.URL+"/private/page")
	if got := reasonOf(t, err); got != model.ReasonRobotsDisallow {
		t.Errorf("expected robots_disallowed, got %s", got)
	}
}

func TestIngest_ImageOCR(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{out: "the earth is round, read it here"}, nil)

	payload := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	doc, err := in.Ingest(context.Background(), model.InputImage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "the earth is round, read it here" {
		t.Errorf("unexpected OCR text: %q", doc.Text)
	}
}

func TestIngest_ImageNoText(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{out: "NO_TEXT"}, nil)

	payload := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	_, err := in.Ingest(context.Background(), model.InputImage, payload)
	if got := reasonOf(t, err); got != model.ReasonEmptyContent {
		t.Errorf("expected empty_content, got %s", got)
	}
}

func TestIngest_ImageBadPayload(t *testing.T) {
	in := New(testConfig(), "ocr-model", &fakeOCR{}, nil)

	_, err := in.Ingest(context.Background(), model.InputImage, "not base64 at all!!!")
	if got := reasonOf(t, err); got != model.ReasonUnsupportedType {
		t.Errorf("expected unsupported_content_type, got %s", got)
	}
}
