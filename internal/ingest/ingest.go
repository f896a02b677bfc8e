// Package ingest normalizes check inputs into plain text. URLs are
// fetched and converted to markdown, raw text is validated for length,
// and images go through an OCR model. All failures are reported as
// *model.IngestionError with a machine-readable reason.
package ingest

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
)

// Document is the normalized output of ingestion.
type Document struct {
	// Text is the extracted plain text (markdown for URL inputs).
	Text string
	// Title is the page title when the input was a URL.
	Title string
	// SourceURL is the final URL after redirects, empty for text and image.
	SourceURL string
	// PublishedAt is the page's publication date when one was found.
	PublishedAt *time.Time
}

// Ingestor dispatches an input to the handler for its kind.
type Ingestor struct {
	url     *URLIngestor
	ocr     *ImageIngestor
	minText int
	maxText int
	logger  *zap.Logger
}

// New creates an Ingestor from config. The chatter is used for image OCR.
func New(cfg config.IngestConfig, ocrModel string, chatter llm.Chatter, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		url:     NewURLIngestor(cfg, logger),
		ocr:     NewImageIngestor(ocrModel, chatter),
		minText: cfg.MinTextChars,
		maxText: cfg.MaxTextChars,
		logger:  logger,
	}
}

// Ingest normalizes one input. The returned document's text always
// satisfies the configured length bounds.
func (in *Ingestor) Ingest(ctx context.Context, kind model.InputKind, input string) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch kind {
	case model.InputURL:
		doc, err = in.url.Ingest(ctx, input)
	case model.InputText:
		doc = &Document{Text: strings.TrimSpace(input)}
	case model.InputImage:
		doc, err = in.ocr.Ingest(ctx, input)
	default:
		return nil, model.NewIngestionError(model.ReasonInternal, "unknown input kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if err := in.ValidateLength(doc.Text); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateLength checks the configured text length bounds. The server
// also calls this at submission time for text inputs, so oversized
// payloads are rejected before a check is ever created.
func (in *Ingestor) ValidateLength(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < in.minText {
		return model.NewIngestionError(model.ReasonTooShort, "%d chars, minimum %d", n, in.minText)
	}
	if n > in.maxText {
		return model.NewIngestionError(model.ReasonTooLong, "%d chars, maximum %d", n, in.maxText)
	}
	return nil
}
