package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

// fakeChatter fails a fixed number of times, then succeeds.
type fakeChatter struct {
	failures int
	calls    int
}

func (f *fakeChatter) Chat(ctx context.Context, req Request) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient")
	}
	return "ok", nil
}

func TestWireTemperature_ZeroReachesTheWire(t *testing.T) {
	// Temperature carries omitempty in go-openai, so a plain 0 vanishes
	// from the request body and the server samples at its own default.
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:       "m",
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		Temperature: wireTemperature(0),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"temperature"`) {
		t.Errorf("temperature 0 must serialize into the request, got %s", body)
	}
}

func TestWireTemperature_NonZeroUnchanged(t *testing.T) {
	if got := wireTemperature(0.7); got != 0.7 {
		t.Errorf("expected 0.7, got %v", got)
	}
}

func TestChatWithRetry_SucceedsFirstTry(t *testing.T) {
	restore := retrySleep
	retrySleep = func(time.Duration) {}
	defer func() { retrySleep = restore }()

	f := &fakeChatter{}
	out, err := ChatWithRetry(context.Background(), f, Request{Model: "m"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || f.calls != 1 {
		t.Errorf("expected one call returning ok, got %q after %d calls", out, f.calls)
	}
}

func TestChatWithRetry_RetriesOnce(t *testing.T) {
	restore := retrySleep
	retrySleep = func(time.Duration) {}
	defer func() { retrySleep = restore }()

	f := &fakeChatter{failures: 1}
	out, err := ChatWithRetry(context.Background(), f, Request{Model: "m"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || f.calls != 2 {
		t.Errorf("expected success on second call, got %q after %d calls", out, f.calls)
	}
}

func TestChatWithRetry_GivesUpAfterOneRetry(t *testing.T) {
	restore := retrySleep
	retrySleep = func(time.Duration) {}
	defer func() { retrySleep = restore }()

	f := &fakeChatter{failures: 5}
	_, err := ChatWithRetry(context.Background(), f, Request{Model: "m"}, time.Second)
	if err == nil {
		t.Fatal("expected error after exhausted retry")
	}
	if f.calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", f.calls)
	}
}

func TestChatWithRetry_NoRetryAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeChatter{failures: 5}
	_, err := ChatWithRetry(ctx, f, Request{Model: "m"}, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 1 {
		t.Errorf("expected no retry after cancellation, got %d calls", f.calls)
	}
}
