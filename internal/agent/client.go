package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is an HTTP Generator for Anthropic- or OpenAI-compatible APIs. It
// makes exactly one request per Generate call; retry, backoff, and rate
// limiting belong to the workflow engine driving it.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	apiType    string // "anthropic" or "openai"
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
		if containsFold(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.Named("agent")
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com",
		model:   "claude-3-5-sonnet-20241022",
		apiType: "anthropic",
		httpClient: &http.Client{
			Timeout:   15 * time.Minute,
			Transport: transport,
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Generate implements Generator. Failures carry transience so the caller
// knows whether retrying can help.
func (c *Client) Generate(ctx context.Context, promptContext string, opts Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	start := time.Now()
	c.logger.Debug("generation request",
		zap.String("api_type", c.apiType),
		zap.String("model", model),
		zap.Int("prompt_length", len(promptContext)))

	var out string
	var err error
	if c.apiType == "openai" {
		out, err = c.doOpenAIRequest(ctx, promptContext, model, maxTokens, opts.Temperature)
	} else {
		out, err = c.doAnthropicRequest(ctx, promptContext, model, maxTokens, opts.Temperature)
	}
	if err != nil {
		c.logger.Warn("generation failed",
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	c.logger.Info("generation complete",
		zap.String("model", model),
		zap.Int("response_length", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error) {
	requestBody := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if temperature > 0 {
		requestBody["temperature"] = temperature
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	respBody, err := c.send(req)
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &GenerationError{Capability: model, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Content) == 0 {
		return "", &GenerationError{Capability: model, Cause: fmt.Errorf("empty response")}
	}
	return result.Content[0].Text, nil
}

func (c *Client) doOpenAIRequest(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error) {
	requestBody := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if temperature > 0 {
		requestBody["temperature"] = temperature
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := c.send(req)
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &GenerationError{Capability: model, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &GenerationError{Capability: model, Cause: fmt.Errorf("empty response")}
	}
	return result.Choices[0].Message.Content, nil
}

// send performs the request and classifies failures. Network errors, 429, and
// 5xx are transient; everything else is permanent.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &GenerationError{Capability: c.model, Cause: err, Transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &GenerationError{Capability: c.model, Cause: fmt.Errorf("reading response: %w", err), Transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 500))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &GenerationError{Capability: c.model, Cause: cause, Transient: transient}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
