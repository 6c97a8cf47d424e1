package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	stdoutMarker = "=== STDOUT ==="
	stderrMarker = "=== STDERR ==="
)

// ErrMalformedCrashLog is returned when a diagnostic log cannot be parsed.
var ErrMalformedCrashLog = errors.New("malformed crash log")

// CrashLog is the diagnostic companion of an archived crash source. Streams
// are stored verbatim with their byte lengths so a parsed log reproduces the
// captured exit status, stdout and stderr exactly.
type CrashLog struct {
	Artifact   string
	BatchIndex int
	ExitCode   int
	TimedOut   bool
	Time       time.Time
	Stdout     string
	Stderr     string
}

// CrashLogFromOutcome builds the diagnostic log for a failing outcome.
func CrashLogFromOutcome(o CompileOutcome) CrashLog {
	return CrashLog{
		Artifact:   o.Artifact,
		BatchIndex: o.BatchIndex,
		ExitCode:   o.ExitCode,
		TimedOut:   o.TimedOut,
		Time:       o.At,
		Stdout:     o.Stdout,
		Stderr:     o.Stderr,
	}
}

// Marshal renders the log.
func (c CrashLog) Marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Compilation failed for: %s\n", c.Artifact)
	fmt.Fprintf(&b, "Batch ID: %d\n", c.BatchIndex)
	fmt.Fprintf(&b, "Exit code: %d\n", c.ExitCode)
	fmt.Fprintf(&b, "Timed out: %t\n", c.TimedOut)
	if c.Time.IsZero() {
		b.WriteString("Time: -\n")
	} else {
		fmt.Fprintf(&b, "Time: %s\n", c.Time.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, "Stdout bytes: %d\n", len(c.Stdout))
	fmt.Fprintf(&b, "Stderr bytes: %d\n", len(c.Stderr))
	b.WriteString("\n")
	b.WriteString(stdoutMarker + "\n")
	b.WriteString(c.Stdout)
	b.WriteString("\n" + stderrMarker + "\n")
	b.WriteString(c.Stderr)
	b.WriteString("\n")
	return b.Bytes()
}

// WriteCrashLog writes c to path. An existing file is never replaced.
func WriteCrashLog(path string, c CrashLog) error {
	return writeNew(path, c.Marshal())
}

// ParseCrashLog parses a log produced by Marshal.
func ParseCrashLog(data []byte) (CrashLog, error) {
	var c CrashLog
	r := bufio.NewReader(bytes.NewReader(data))

	stdoutLen, stderrLen := -1, -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return c, fmt.Errorf("%w: header not terminated", ErrMalformedCrashLog)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return c, fmt.Errorf("%w: bad header line %q", ErrMalformedCrashLog, line)
		}
		switch key {
		case "Compilation failed for":
			c.Artifact = value
		case "Batch ID":
			c.BatchIndex, err = strconv.Atoi(value)
		case "Exit code":
			c.ExitCode, err = strconv.Atoi(value)
		case "Timed out":
			c.TimedOut, err = strconv.ParseBool(value)
		case "Time":
			if value != "-" {
				c.Time, err = time.Parse(time.RFC3339Nano, value)
			}
		case "Stdout bytes":
			stdoutLen, err = strconv.Atoi(value)
		case "Stderr bytes":
			stderrLen, err = strconv.Atoi(value)
		}
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrMalformedCrashLog, key, err)
		}
	}
	if stdoutLen < 0 || stderrLen < 0 {
		return c, fmt.Errorf("%w: missing stream lengths", ErrMalformedCrashLog)
	}

	var err error
	if err = expect(r, stdoutMarker+"\n"); err != nil {
		return c, err
	}
	if c.Stdout, err = readN(r, stdoutLen); err != nil {
		return c, err
	}
	if err = expect(r, "\n"+stderrMarker+"\n"); err != nil {
		return c, err
	}
	if c.Stderr, err = readN(r, stderrLen); err != nil {
		return c, err
	}
	return c, nil
}

func expect(r *bufio.Reader, want string) error {
	got, err := readN(r, len(want))
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected %q, got %q", ErrMalformedCrashLog, want, got)
	}
	return nil
}

func readN(r *bufio.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated: %v", ErrMalformedCrashLog, err)
	}
	return string(buf), nil
}
