package model

import (
	"errors"
	"fmt"
)

// Reason is a stable, user-visible failure reason code. Raw internal error
// text is never exposed through the API; reasons are.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUnreachableURL  Reason = "unreachable_url"
	ReasonHTTPStatus      Reason = "http_status"
	ReasonPaywall         Reason = "paywall"
	ReasonUnsupportedType Reason = "unsupported_content_type"
	ReasonEmptyContent    Reason = "empty_content"
	ReasonRobotsDisallow  Reason = "robots_disallowed"
	ReasonTooShort        Reason = "too_short"
	ReasonTooLong         Reason = "too_long"
	ReasonNoClaims        Reason = "no_verifiable_claims"
	ReasonTimeout         Reason = "timeout"
	ReasonCancelled       Reason = "cancelled"
	ReasonInternal        Reason = "internal"
)

// IngestionError is a fatal content error: unreachable, unsupported or
// empty input. It always fails the whole check with its reason code.
type IngestionError struct {
	Reason Reason
	Detail string
}

func (e *IngestionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ingestion: %s", e.Reason)
	}
	return fmt.Sprintf("ingestion: %s: %s", e.Reason, e.Detail)
}

// NewIngestionError builds an IngestionError with a detail message.
func NewIngestionError(reason Reason, format string, args ...any) *IngestionError {
	return &IngestionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ProviderError is a search backend failure. It is recoverable via
// failover; only full provider-list exhaustion surfaces to the caller, and
// even then it degrades the affected claim to zero evidence rather than
// failing the check.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrNoProviders is returned when every configured provider failed for a
// query. A claim with no evidence is a legitimate terminal state, so
// callers treat this as "no evidence available", not as a crash.
var ErrNoProviders = errors.New("no evidence available: all providers exhausted")

// InferenceError is an NLI or LLM call failure (timeout, malformed
// output). It is retried once; persistent failure degrades the affected
// claim or verdict instead of failing the check.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ErrDuplicateDispatch is returned when a check is dispatched while an
// execution for the same check id is already active.
var ErrDuplicateDispatch = errors.New("check already executing")
