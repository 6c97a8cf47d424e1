package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAICompleter talks to an OpenAI-compatible chat completions endpoint,
// such as a vLLM or TGI server hosting the fuzzing model.
type OpenAICompleter struct {
	apiKey     string
	baseURL    string
	opts       Options
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	N           int             `json:"n,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAICompleter creates a client. A local server usually needs no key.
func NewOpenAICompleter(baseURL, apiKey string, opts Options) *OpenAICompleter {
	return &OpenAICompleter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

func (c *OpenAICompleter) Name() string { return BackendOpenAI }

// Complete requests BatchSize choices in one round trip.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) ([]string, error) {
	reqBody := openAIRequest{
		Model:       c.opts.Model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.opts.MaxLength,
		Temperature: c.opts.Temperature,
		N:           c.opts.BatchSize,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("API error: %s", out.Error.Message)
	}

	completions := make([]string, 0, len(out.Choices))
	for _, ch := range out.Choices {
		completions = append(completions, ch.Message.Content)
	}
	return completions, nil
}

func (c *OpenAICompleter) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
