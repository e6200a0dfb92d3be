package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 200
)

// HTTPClient calls an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	APIKey     string
	APIBase    string
	Model      string
	BotName    string
	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates an HTTP generator. Empty values use defaults.
func NewHTTPClient(apiKey, apiBase, model, botName string, logger *slog.Logger) *HTTPClient {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if model == "" {
		model = defaultModel
	}
	if botName == "" {
		botName = "Rahul"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		APIKey:     apiKey,
		APIBase:    apiBase,
		Model:      model,
		BotName:    botName,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt and returns the first choice's text.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    buildMessages(c.BotName, req),
		"max_tokens":  defaultMaxTokens,
		"temperature": 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.APIBase, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", classify(ctx, fmt.Errorf("chat completion: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close completion body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classify(ctx, fmt.Errorf("read completion: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, truncate(string(data), 200))
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode completion: %v", ErrNetwork, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrNetwork, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Generator = (*HTTPClient)(nil)
