package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/model"
)

func TestRunCheck_RejectsShortTextUpFront(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = ":memory:"

	restore := checkKind
	checkKind = "text"
	defer func() { checkKind = restore }()

	err := runCheck(context.Background(), cfg, "nope")
	var ierr *model.IngestionError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected an ingestion error before any check runs, got %v", err)
	}
	if ierr.Reason != model.ReasonTooShort {
		t.Errorf("expected reason %s, got %s", model.ReasonTooShort, ierr.Reason)
	}
}
