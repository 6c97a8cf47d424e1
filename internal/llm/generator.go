package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Generator turns a prompt into candidate source text. An empty string with
// a nil error is an ordinary "no output" result.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Completer is a model backend. One call may return several raw completions
// for the same prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) ([]string, error)
	Close() error
}

// Options are the generator tuning knobs shared by every backend.
type Options struct {
	Model       string
	Temperature float64
	MaxLength   int
	BatchSize   int
	Timeout     time.Duration
}

// Pool adapts a Completer to the one-prompt-one-candidate Generator contract.
// Surplus completions from a round trip are buffered and handed out by the
// following calls with the same prompt.
type Pool struct {
	src Completer

	mu     sync.Mutex
	prompt string
	queue  []string
}

// NewPool wraps src.
func NewPool(src Completer) *Pool {
	return &Pool{src: src}
}

// Generate returns the extracted code of the next completion.
func (p *Pool) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prompt != p.prompt {
		p.prompt = prompt
		p.queue = nil
	}

	if len(p.queue) == 0 {
		completions, err := p.src.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p.src.Name(), err)
		}
		if len(completions) == 0 {
			return "", nil
		}
		p.queue = completions
	}

	raw := p.queue[0]
	p.queue = p.queue[1:]
	return ExtractCode(raw), nil
}

// Buffered reports how many completions are waiting.
func (p *Pool) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close releases the backend.
func (p *Pool) Close() error {
	return p.src.Close()
}

// Backend identifiers accepted by New.
const (
	BackendCommand = "command"
	BackendOpenAI  = "openai"
	BackendGemini  = "gemini"
)

// Spec selects a backend. APIKeyEnv names the environment variable holding
// the key for the HTTP backends.
type Spec struct {
	Backend   string
	Command   []string
	BaseURL   string
	APIKeyEnv string
	Devices   []int
}

// New builds the configured backend and wraps it in a Pool.
func New(ctx context.Context, spec Spec, opts Options) (*Pool, error) {
	var (
		src Completer
		err error
	)
	switch spec.Backend {
	case BackendCommand, "":
		src, err = NewCommandCompleter(spec.Command, spec.Devices, opts)
	case BackendOpenAI:
		src = NewOpenAICompleter(spec.BaseURL, os.Getenv(spec.APIKeyEnv), opts)
	case BackendGemini:
		src, err = NewGeminiCompleter(ctx, os.Getenv(spec.APIKeyEnv), opts)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", spec.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("backend", src.Name()).
		Str("model", opts.Model).
		Int("batch_size", opts.BatchSize).
		Msg("generator ready")
	return NewPool(src), nil
}

// DeviceList renders device indices the way CUDA_VISIBLE_DEVICES expects.
func DeviceList(devices []int) string {
	parts := make([]string, len(devices))
	for i, d := range devices {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

var errNoAPIKey = errors.New("API key is required")
