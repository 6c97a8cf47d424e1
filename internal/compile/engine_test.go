package compile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-compiler-fuzz/internal/batch"
	"llm-compiler-fuzz/internal/harness"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
)

// compilerScript fails for sources containing "BAD" and hangs on "HANG".
const compilerScript = `
src="$2"
test -d "$1/codes" || { echo "bad workdir" >&2; exit 9; }
if grep -q HANG "$src"; then exec sleep 5; fi
if grep -q BAD "$src"; then echo "parse error" >&2; exit 1; fi
echo "compiled $(basename "$src")" > /dev/null
exit 0
`

type auditLog struct {
	mu       sync.Mutex
	outcomes []storage.CompileOutcome
}

func (a *auditLog) RecordCompile(o storage.CompileOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
}

type fixture struct {
	store  *storage.Store
	script *harness.Script
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compiler.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+compilerScript), 0o755))

	store, err := storage.Create(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	return &fixture{store: store, script: harness.NewScript(path, timeout)}
}

func (f *fixture) artifact(t *testing.T, index int, text string) storage.Artifact {
	t.Helper()
	name := "case_" + string(rune('0'+index)) + ".c"
	path, err := f.store.WriteArtifact(name, text)
	require.NoError(t, err)
	return storage.Artifact{Index: index, Name: name, Path: path, Extension: ".c", Language: "c", CreatedAt: time.Now()}
}

func TestProcess_SingleFailure(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	a := f.artifact(t, 1, "int main() { BAD }")

	e := NewEngine(f.script, f.store, 1, monitor.NewMetrics())
	audit := &auditLog{}
	e.Audit = audit

	report, err := e.Process(context.Background(), batch.Batch{Index: 1, Artifacts: []storage.Artifact{a}})
	require.NoError(t, err)
	assert.False(t, report.AllSucceeded())
	require.Len(t, report.Crashes, 1)

	src := filepath.Join(f.store.CrashesPath(), "crash_1_case_1.c")
	logPath := filepath.Join(f.store.CrashesPath(), "crash_1_case_1.log")
	assert.FileExists(t, src)
	assert.FileExists(t, logPath)

	orig, _ := os.ReadFile(a.Path)
	copied, _ := os.ReadFile(src)
	assert.True(t, bytes.Equal(orig, copied))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	cl, err := storage.ParseCrashLog(data)
	require.NoError(t, err)
	assert.Equal(t, 1, cl.ExitCode)
	assert.Equal(t, "", cl.Stdout)
	assert.Equal(t, "parse error\n", cl.Stderr)

	lines, err := f.store.Compiler.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--- FAIL batch 1: case_1.c (exit 1) ---",
		"=== STDOUT ===",
		"",
		"=== STDERR ===",
		"parse error",
		failRule,
	}, lines)
	assert.Len(t, audit.outcomes, 1)
}

func TestProcess_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	arts := []storage.Artifact{
		f.artifact(t, 1, "ok"),
		f.artifact(t, 2, "BAD"),
		f.artifact(t, 3, "ok"),
		f.artifact(t, 4, "BAD too"),
	}

	var crashes []storage.CrashRecord
	e := NewEngine(f.script, f.store, 1, monitor.NewMetrics())
	e.OnCrash = func(r storage.CrashRecord, _ monitor.Classification) { crashes = append(crashes, r) }

	report, err := e.Process(context.Background(), batch.Batch{Index: 2, Artifacts: arts})
	require.NoError(t, err)
	assert.Len(t, report.Outcomes, 4)
	assert.Len(t, report.Crashes, 2)
	assert.Len(t, crashes, 2)

	lines, err := f.store.Compiler.Lines()
	require.NoError(t, err)
	assert.Equal(t, "2,case_1.c,OK", lines[0])
	assert.Equal(t, "--- FAIL batch 2: case_2.c (exit 1) ---", lines[1])
	assert.Equal(t, "2,case_3.c,OK", lines[7])
	assert.Equal(t, "--- FAIL batch 2: case_4.c (exit 1) ---", lines[8])

	entries, err := os.ReadDir(f.store.CrashesPath())
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestProcess_AllSucceed(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	arts := []storage.Artifact{f.artifact(t, 1, "a"), f.artifact(t, 2, "b")}

	report, err := NewEngine(f.script, f.store, 1, nil).Process(context.Background(), batch.Batch{Index: 1, Artifacts: arts})
	require.NoError(t, err)
	assert.True(t, report.AllSucceeded())
	assert.Empty(t, report.Crashes)
}

func TestProcess_TimeoutIsFailure(t *testing.T) {
	f := newFixture(t, 300*time.Millisecond)
	a := f.artifact(t, 1, "HANG")

	report, err := NewEngine(f.script, f.store, 1, monitor.NewMetrics()).Process(context.Background(), batch.Batch{Index: 1, Artifacts: []storage.Artifact{a}})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].TimedOut)
	assert.Equal(t, -1, report.Outcomes[0].ExitCode)
	require.Len(t, report.Crashes, 1)

	crashes, err := f.store.Crashes()
	require.NoError(t, err)
	require.Len(t, crashes, 1)
	assert.True(t, crashes[0].TimedOut)
}

func TestProcess_MissingHarnessIsFatal(t *testing.T) {
	f := newFixture(t, time.Second)
	a := f.artifact(t, 1, "BAD")
	missing := harness.NewScript(filepath.Join(t.TempDir(), "compiler.sh"), time.Second)

	_, err := NewEngine(missing, f.store, 1, nil).Process(context.Background(), batch.Batch{Index: 1, Artifacts: []storage.Artifact{a}})
	require.ErrorIs(t, err, harness.ErrScriptMissing)

	lines, err := f.store.Compiler.Lines()
	require.NoError(t, err)
	assert.Empty(t, lines, "no artifact may be attempted")
}

func TestProcess_ParallelKeepsLogOrder(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	var arts []storage.Artifact
	for i := 1; i <= 8; i++ {
		text := "ok"
		if i%3 == 0 {
			text = "BAD"
		}
		arts = append(arts, f.artifact(t, i, text))
	}

	report, err := NewEngine(f.script, f.store, 4, monitor.NewMetrics()).Process(context.Background(), batch.Batch{Index: 1, Artifacts: arts})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 8)
	for i, o := range report.Outcomes {
		assert.Equal(t, arts[i].Name, o.Artifact)
	}
	assert.Len(t, report.Crashes, 2)

	lines, err := f.store.Compiler.Lines()
	require.NoError(t, err)
	assert.Equal(t, "1,case_1.c,OK", lines[0])
	assert.Equal(t, "1,case_2.c,OK", lines[1])
	assert.Equal(t, "--- FAIL batch 1: case_3.c (exit 1) ---", lines[2])
}

func TestFailBlock_TrimsStreams(t *testing.T) {
	got := FailBlock(storage.CompileOutcome{BatchIndex: 3, Artifact: "case_9.go", ExitCode: 2, Stdout: "\n out \n", Stderr: "err\n\n"})
	want := "--- FAIL batch 3: case_9.go (exit 2) ---\n=== STDOUT ===\nout\n=== STDERR ===\nerr\n" + failRule
	assert.Equal(t, want, got)
}
