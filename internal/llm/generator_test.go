package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeCompleter struct {
	rounds [][]string
	calls  int
	err    error
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, _ string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.rounds) == 0 {
		return nil, nil
	}
	r := f.rounds[0]
	f.rounds = f.rounds[1:]
	return r, nil
}

func (f *fakeCompleter) Close() error { return nil }

func TestPool_BuffersSurplusCompletions(t *testing.T) {
	src := &fakeCompleter{rounds: [][]string{
		{"<code>a</code>", "no code here", "<code>c</code>"},
		{"<code>d</code>"},
	}}
	p := NewPool(src)
	ctx := context.Background()

	var got []string
	for i := 0; i < 4; i++ {
		code, err := p.Generate(ctx, "prompt")
		if err != nil {
			t.Fatalf("Generate #%d: %v", i, err)
		}
		got = append(got, code)
	}

	if strings.Join(got, "|") != "a||c|d" {
		t.Errorf("got %q", got)
	}
	if src.calls != 2 {
		t.Errorf("backend calls = %d, want 2", src.calls)
	}
}

func TestPool_PromptChangeDropsBuffer(t *testing.T) {
	src := &fakeCompleter{rounds: [][]string{
		{"<code>java1</code>", "<code>java2</code>"},
		{"<code>go1</code>"},
	}}
	p := NewPool(src)

	if _, err := p.Generate(context.Background(), "java"); err != nil {
		t.Fatal(err)
	}
	if p.Buffered() != 1 {
		t.Fatalf("Buffered = %d, want 1", p.Buffered())
	}
	code, err := p.Generate(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if code != "go1" {
		t.Errorf("code = %q, want go1", code)
	}
}

func TestPool_EmptyRoundIsNoOutput(t *testing.T) {
	p := NewPool(&fakeCompleter{})
	code, err := p.Generate(context.Background(), "p")
	if err != nil || code != "" {
		t.Errorf("Generate = (%q, %v), want empty, nil", code, err)
	}
}

func TestPool_BackendError(t *testing.T) {
	boom := errors.New("CUDA out of memory")
	p := NewPool(&fakeCompleter{err: boom})
	_, err := p.Generate(context.Background(), "p")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped backend error", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Spec{Backend: "llama"}, Options{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	t.Setenv("FUZZ_TEST_GEMINI_KEY", "")
	_, err := New(context.Background(), Spec{Backend: BackendGemini, APIKeyEnv: "FUZZ_TEST_GEMINI_KEY"}, Options{Model: "gemini-1.5-flash"})
	if !errors.Is(err, errNoAPIKey) {
		t.Errorf("err = %v, want errNoAPIKey", err)
	}
}
