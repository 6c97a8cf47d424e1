package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiCompleter implements Completer for Google Gemini.
type GeminiCompleter struct {
	client *genai.Client
	model  *genai.GenerativeModel
	opts   Options
}

// NewGeminiCompleter creates a Gemini client for opts.Model.
func NewGeminiCompleter(ctx context.Context, apiKey string, opts Options) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, errNoAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(float32(opts.Temperature))
	model.SetMaxOutputTokens(int32(opts.MaxLength)) // #nosec G115 -- validated positive
	model.SetCandidateCount(int32(opts.BatchSize))  // #nosec G115 -- validated positive

	return &GeminiCompleter{client: client, model: model, opts: opts}, nil
}

func (c *GeminiCompleter) Name() string { return BackendGemini }

// Complete returns the text of every candidate in the response.
func (c *GeminiCompleter) Complete(ctx context.Context, prompt string) ([]string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	return candidateTexts(resp), nil
}

func (c *GeminiCompleter) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func candidateTexts(resp *genai.GenerateContentResponse) []string {
	var out []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var parts []string
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, ""))
		}
	}
	return out
}
