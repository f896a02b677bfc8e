package ingest

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/veridexlabs/veridex/internal/llm"
	"github.com/veridexlabs/veridex/internal/model"
)

const ocrPrompt = `Transcribe all readable text in this image exactly as written.
Preserve the reading order. Output only the transcribed text, nothing else.
If the image contains no readable text, output exactly: NO_TEXT`

// ImageIngestor extracts text from an image via a vision model. The input
// is a data URL or a bare base64-encoded PNG/JPEG payload.
type ImageIngestor struct {
	model   string
	chatter llm.Chatter
}

// NewImageIngestor creates an OCR handler.
func NewImageIngestor(ocrModel string, chatter llm.Chatter) *ImageIngestor {
	return &ImageIngestor{model: ocrModel, chatter: chatter}
}

// Ingest runs OCR on one image.
func (im *ImageIngestor) Ingest(ctx context.Context, input string) (*Document, error) {
	dataURL, err := normalizeImageInput(input)
	if err != nil {
		return nil, err
	}

	out, err := im.chatter.Chat(ctx, llm.Request{
		Model:        im.model,
		User:         ocrPrompt,
		ImageDataURL: dataURL,
		Temperature:  0,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewIngestionError(model.ReasonEmptyContent, "ocr: %v", err)
	}

	out = strings.TrimSpace(out)
	if out == "" || out == "NO_TEXT" {
		return nil, model.NewIngestionError(model.ReasonEmptyContent, "no readable text in image")
	}
	return &Document{Text: out}, nil
}

// normalizeImageInput accepts a data URL as-is and wraps bare base64 in
// one. Anything that is neither is rejected before an OCR call is spent.
func normalizeImageInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "data:image/") {
		return input, nil
	}
	if _, err := base64.StdEncoding.DecodeString(input); err != nil {
		return "", model.NewIngestionError(model.ReasonUnsupportedType, "image input is neither a data url nor base64")
	}
	return "data:image/png;base64," + input, nil
}
