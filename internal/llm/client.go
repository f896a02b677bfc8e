// Package llm wraps the OpenAI-compatible chat API used by the
// extraction, OCR and judgment stages.
//
// Temperature policy: structural decisions (claim extraction, OCR) run at
// temperature 0 so that identical input yields an identical result set.
// Sampling temperature is reserved for judgment prose and bounded there.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/veridexlabs/veridex/internal/config"
	"github.com/veridexlabs/veridex/internal/model"
)

// Request is one chat invocation.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSONOnly constrains the response to a JSON object.
	JSONOnly bool
	// ImageDataURL, when set, is attached to the user message as an image
	// part (used for OCR).
	ImageDataURL string
}

// Chatter is the chat surface stages depend on; tests substitute fakes.
type Chatter interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// Client is the production Chatter over go-openai.
type Client struct {
	api     *openai.Client
	timeout time.Duration
}

// NewClient builds a client from configuration. BaseURL may point at any
// OpenAI-compatible endpoint (hosted API, local runtime, NLI server).
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{api: openai.NewClientWithConfig(cfg), timeout: timeout}
}

// FromConfig builds the pipeline's shared client.
func FromConfig(cfg config.LLMConfig) *Client {
	return NewClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
}

// Chat performs one chat completion and returns the trimmed message text.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if req.ImageDataURL != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.User},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    req.ImageDataURL,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.User,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", &model.InferenceError{Model: req.Model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &model.InferenceError{Model: req.Model, Err: fmt.Errorf("empty response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// wireTemperature keeps a requested temperature of 0 on the wire.
// go-openai tags Temperature with omitempty, so a plain 0 would be dropped
// from the request body and the server would sample at its default. The
// smallest positive float survives serialization and is treated as 0.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// retrySleep is injectable for tests.
var retrySleep = time.Sleep

// ChatWithRetry calls Chat and retries exactly once with backoff on
// failure. Persistent failure returns the last error so callers can apply
// their degradation policy.
func ChatWithRetry(ctx context.Context, c Chatter, req Request, backoff time.Duration) (string, error) {
	out, err := c.Chat(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	retrySleep(backoff)
	return c.Chat(ctx, req)
}
