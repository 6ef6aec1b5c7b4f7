// Package llm is the LLM provider client: a thin, resty-based wrapper
// around an OpenAI-compatible chat completions endpoint, offering both a
// blocking call (classification, structured extraction) and a
// token-streaming call (the advisor's narrative responses).
//
// Grounded on libs/agent0/client.go's shape (a Client struct built with
// functional Options, a base URL resolved per request, JSON request/response
// types, status-code-to-error translation) generalized from Agent0's
// bespoke /v1/plan and /v1/execute endpoints to a single chat completions
// contract, and built on resty instead of net/http per SPEC_FULL.md §8 —
// resty's retry/backoff and timeout ergonomics replace the agent0 client's
// hand-rolled http.Client wiring.
package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/resilience"
)

// Role is a chat message's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. JSONMode asks the provider to
// constrain output to a JSON object — used by the Agent Router's
// classification call and the Supervisor's structured trade-detail
// extraction call.
type Request struct {
	Messages    []Message
	Temperature float64
	JSONMode    bool
}

// Chunk is one piece of a streamed completion. Err is set on the final
// chunk if the stream ended abnormally; Done is set on the final chunk
// either way.
type Chunk struct {
	Token string
	Done  bool
	Err   error
}

// Config configures the LLM client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig fills in the provider timeout SPEC_FULL.md §5 names for a
// per-token wall clock (60s) — the HTTP client's own Timeout bounds the
// non-streaming Chat call; ChatStream is bounded per-token by the caller's
// context instead, since a streaming response has no single deadline.
func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second}
}

// Client is the LLM provider client.
type Client struct {
	http    *resty.Client
	model   string
	breaker *resilience.Breaker
}

// New builds a Client from cfg. cfg.BaseURL and cfg.APIKey are required;
// New does not validate reachability, matching the teacher's New which
// defers all network errors to the first call.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second)

	return &Client{
		http:    http,
		model:   cfg.Model,
		breaker: resilience.New(resilience.DefaultConfig("llm")),
	}
}

type chatCompletionRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	Temperature    float64          `json:"temperature,omitempty"`
	Stream         bool             `json:"stream"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) buildRequest(req Request, stream bool) chatCompletionRequest {
	out := chatCompletionRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.JSONMode {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

// Chat performs a blocking chat completion and returns the assistant's
// full response text.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	result, err := c.breaker.ExecuteWithContext(ctx, func() (any, error) {
		var out chatCompletionResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(c.buildRequest(req, false)).
			SetResult(&out).
			Post("/chat/completions")
		if err != nil {
			return nil, fmt.Errorf("llm chat: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("llm chat: status=%d body=%s", resp.StatusCode(), resp.String())
		}
		if len(out.Choices) == 0 {
			return nil, fmt.Errorf("llm chat: no choices in response")
		}
		return out.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ChatStream performs a streaming chat completion, emitting one Chunk per
// token on the returned channel. The channel is closed after the final
// chunk (Done=true, possibly with Err set). ChatStream itself returns an
// error only if the request could not be started at all (connection
// refused, a non-2xx status); mid-stream failures surface as a final
// Chunk. Unlike Chat, the streaming call does not go through the circuit
// breaker.
func (c *Client) ChatStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(c.buildRequest(req, true)).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("llm chat stream: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		resp.RawBody().Close()
		return nil, fmt.Errorf("llm chat stream: status=%d body=%s", resp.StatusCode(), body)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.RawBody().Close()

		scanner := bufio.NewScanner(resp.RawBody())
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				out <- Chunk{Done: true, Err: err}
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				out <- Chunk{Done: true}
				return
			}
			var event struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				observability.Warn(ctx, "llm_stream_decode_failed", map[string]any{"error": err.Error()})
				continue
			}
			for _, choice := range event.Choices {
				if choice.Delta.Content != "" {
					out <- Chunk{Token: choice.Delta.Content}
				}
				if choice.FinishReason != nil {
					out <- Chunk{Done: true}
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Done: true, Err: fmt.Errorf("llm chat stream: %w", err)}
			return
		}
		out <- Chunk{Done: true}
	}()

	return out, nil
}
