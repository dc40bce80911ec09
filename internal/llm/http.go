package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client is the direct HTTP extraction backend: it speaks the OpenAI-
// compatible /chat/completions wire format, the same way internal/embeddings
// speaks /embeddings. Unlike Runner (which shells out to a CLI agent and has
// no notion of response_format), Client is what the batch processor uses for
// classification and extraction calls that want JSON back.
//
// jsonFormatUnsupported is a per-Client, not process-wide, flag: once a call
// fails with a 400 indicating the provider doesn't support response_format,
// the Client stops sending it on subsequent calls rather than eating a 400
// on every request for the rest of the process's life.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string

	mu                    sync.Mutex
	jsonFormatUnsupported bool
}

// NewClient constructs a direct HTTP LLM client against baseURL using apiKey
// and model as the default chat-completion model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// CompleteOptions narrows a single chat-completion call.
type CompleteOptions struct {
	Temperature  float64
	MaxTokens    int
	WantJSON     bool // best-effort; silently dropped once the provider has 400'd on it once
}

// Complete sends a single-turn prompt and returns the raw text response.
// Reasoning-model chain-of-thought wrapper tokens are NOT stripped here --
// that happens in internal/processor, which owns the parsing pipeline.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOptions) (string, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.WantJSON && !c.jsonUnsupported() {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	text, status, err := c.send(ctx, req)
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest && req.ResponseFormat != nil {
		// Some OpenAI-compatible providers (local models, older gateways) 400
		// on an unrecognized response_format field. Cache that fact on this
		// Client and retry once without it, so the caller doesn't have to.
		c.setJSONUnsupported()
		req.ResponseFormat = nil
		text, status, err = c.send(ctx, req)
		if err != nil {
			return "", err
		}
	}
	if status == http.StatusBadRequest {
		return "", fmt.Errorf("llm provider returned status %d", status)
	}
	return text, nil
}

func (c *Client) jsonUnsupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jsonFormatUnsupported
}

func (c *Client) setJSONUnsupported() {
	c.mu.Lock()
	c.jsonFormatUnsupported = true
	c.mu.Unlock()
}

// send performs one request, returning the response text, the HTTP status
// code (even on a non-2xx so the caller can decide whether to retry), and an
// error only for transport-level failures or an unrecoverable API error.
func (c *Client) send(ctx context.Context, req chatRequest) (string, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		if resp.StatusCode == http.StatusBadRequest {
			// Let the caller (Complete) decide whether this was the
			// response_format field specifically; either way the body is
			// useless as a completion, so return no text.
			return "", resp.StatusCode, nil
		}
		if apiErr.Error.Message != "" {
			return "", resp.StatusCode, fmt.Errorf("llm provider error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return "", resp.StatusCode, fmt.Errorf("llm provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, fmt.Errorf("llm provider returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), resp.StatusCode, nil
}
