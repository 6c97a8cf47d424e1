package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Result is the captured outcome of one harness invocation.
type Result struct {
	ID       string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Script is an external harness program run through bash with its own
// directory as the working directory.
type Script struct {
	Path    string
	Timeout time.Duration
	// Shell is the interpreter; empty means "bash".
	Shell string
}

// NewScript returns a Script for path with the given per-invocation timeout.
func NewScript(path string, timeout time.Duration) *Script {
	return &Script{Path: path, Timeout: timeout}
}

// Check verifies the script exists. A missing execute bit only warns since
// the script is always started through the shell.
func (s *Script) Check() error {
	info, err := os.Stat(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptMissing, s.Path)
		}
		return fmt.Errorf("stat harness %s: %w", s.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrScriptMissing, s.Path)
	}
	if info.Mode()&0o111 == 0 {
		log.Warn().Str("script", s.Path).Msg("harness script lacks execute permission")
	}
	return nil
}

// Run invokes the script with args. A non-zero exit status is not an error:
// it is reported in Result. A timeout returns a Result with TimedOut set
// together with ErrTimeout. Any other failure to start or wait on the
// process is returned as an *InvocationError.
func (s *Script) Run(ctx context.Context, args ...string) (*Result, error) {
	id := uuid.New().String()
	logger := log.With().
		Str("invocation_id", id).
		Str("script", filepath.Base(s.Path)).
		Logger()

	if err := s.Check(); err != nil {
		return nil, &InvocationError{InvocationID: id, Op: "check", Err: err}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := s.Shell
	if shell == "" {
		shell = "bash"
	}

	absPath, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, &InvocationError{InvocationID: id, Op: "abs_path", Err: err}
	}

	cmd := exec.CommandContext(runCtx, shell, append([]string{absPath}, args...)...) // #nosec G204 -- harness path comes from config
	cmd.Dir = filepath.Dir(absPath)
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	logger.Debug().Strs("args", args).Msg("starting harness")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := &Result{
		ID:       id,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn().Dur("timeout", timeout).Msg("harness timed out, process killed")
			result.ExitCode = -1
			result.TimedOut = true
			return result, ErrTimeout
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, &InvocationError{InvocationID: id, Op: "run", Err: fmt.Errorf("%w: %v", ErrNotExecuted, err)}
		}
	}

	logger.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("harness completed")

	return result, nil
}
