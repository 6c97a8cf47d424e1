package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// CommandCompleter runs a local generator program. The prompt is written to
// its stdin and its stdout is the completion; NUL bytes separate multiple
// completions from one run, and a completion that starts by echoing the
// prompt has the echo removed. Tuning options and the selected devices are
// passed through the environment.
type CommandCompleter struct {
	argv    []string
	env     []string
	timeout time.Duration
}

// NewCommandCompleter validates argv and prepares the child environment.
func NewCommandCompleter(argv []string, devices []int, opts Options) (*CommandCompleter, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("generator command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("generator command %q: %w", argv[0], err)
	}

	env := append(os.Environ(),
		"FUZZ_MODEL_NAME="+opts.Model,
		"FUZZ_TEMPERATURE="+strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"FUZZ_MAX_LENGTH="+strconv.Itoa(opts.MaxLength),
		"FUZZ_BATCH_SIZE="+strconv.Itoa(opts.BatchSize),
	)
	if len(devices) > 0 {
		env = append(env, "CUDA_VISIBLE_DEVICES="+DeviceList(devices))
	}

	return &CommandCompleter{argv: argv, env: env, timeout: opts.Timeout}, nil
}

func (c *CommandCompleter) Name() string { return BackendCommand }

// Complete runs the program once.
func (c *CommandCompleter) Complete(ctx context.Context, prompt string) ([]string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...) // #nosec G204 -- argv comes from the campaign config
	cmd.Env = c.env
	cmd.Stdin = strings.NewReader(prompt)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("generator timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("generator failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out []string
	for _, part := range strings.Split(stdout.String(), "\x00") {
		part = stripEcho(part, prompt)
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

func (c *CommandCompleter) Close() error { return nil }

// stripEcho removes a leading copy of prompt. Causal models decode the
// prompt along with the continuation, and the prompt's own <code> example
// would otherwise be extracted as the answer.
func stripEcho(completion, prompt string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return completion
	}
	rest := strings.TrimLeftFunc(completion, unicode.IsSpace)
	if strings.HasPrefix(rest, p) {
		return rest[len(p):]
	}
	return completion
}
