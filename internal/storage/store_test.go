package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreate_Layout(t *testing.T) {
	s := newTestStore(t)

	for _, d := range []string{CodesDir, CrashesDir, CoverageDir, LogsDir} {
		info, err := os.Stat(filepath.Join(s.Root(), d))
		if err != nil || !info.IsDir() {
			t.Errorf("%s missing: %v", d, err)
		}
	}
	for _, l := range []*LogFile{s.Generation, s.Compiler, s.Coverage} {
		info, err := os.Stat(l.Path())
		if err != nil {
			t.Errorf("%s missing: %v", l.Path(), err)
			continue
		}
		if info.Size() != 0 {
			t.Errorf("%s size = %d, want 0", l.Path(), info.Size())
		}
	}
}

func TestCreate_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "keep.txt")
	if err := os.WriteFile(marker, []byte("prior run"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Create(dir)
	if !errors.Is(err, ErrWorkDirExists) {
		t.Fatalf("Create(existing) = %v, want ErrWorkDirExists", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CodesDir)); !os.IsNotExist(err) {
		t.Error("Create must not touch an existing work_dir")
	}
	if data, _ := os.ReadFile(marker); string(data) != "prior run" {
		t.Error("existing content modified")
	}
}

func TestLogFile_Append(t *testing.T) {
	l := NewLogFile(filepath.Join(t.TempDir(), "x.log"))

	if err := l.Append("llm_calls,valid"); err != nil {
		t.Fatal(err)
	}
	if err := l.Appendf("%d,%d,%s  \n\n", 1, 1, "case_1.c"); err != nil {
		t.Fatal(err)
	}

	lines, err := l.Lines()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"llm_calls,valid", "1,1,case_1.c"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("Lines = %q, want %q", lines, want)
	}
}

func TestLogFile_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	l := NewLogFile(filepath.Join(t.TempDir(), "x.log"))
	line := strings.Repeat("a", 4096)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Append(line)
		}()
	}
	wg.Wait()

	lines, err := l.Lines()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 16 {
		t.Fatalf("got %d lines, want 16", len(lines))
	}
	for i, got := range lines {
		if got != line {
			t.Fatalf("line %d corrupted (len %d)", i, len(got))
		}
	}
}

func TestWriteArtifact_NoOverwrite(t *testing.T) {
	s := newTestStore(t)

	path, err := s.WriteArtifact("case_1.c", "int main(){}")
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(s.CodesPath(), "case_1.c") {
		t.Errorf("path = %q", path)
	}
	if _, err := s.WriteArtifact("case_1.c", "other"); err == nil {
		t.Error("second write with same name should fail")
	}
	n, err := s.CountArtifacts()
	if err != nil || n != 1 {
		t.Errorf("CountArtifacts = (%d, %v), want 1", n, err)
	}
}

func TestSaveCrash(t *testing.T) {
	s := newTestStore(t)
	src := "int main() { return *(int*)0; }\n"
	path, err := s.WriteArtifact("case_1.c", src)
	if err != nil {
		t.Fatal(err)
	}
	a := Artifact{Index: 1, Name: "case_1.c", Path: path, Extension: ".c"}
	outcome := CompileOutcome{
		BatchIndex: 1,
		Artifact:   a.Name,
		ExitCode:   1,
		Stderr:     "parse error",
		At:         time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}

	rec, err := s.SaveCrash(a, outcome)
	if err != nil {
		t.Fatalf("SaveCrash: %v", err)
	}

	if filepath.Base(rec.SourcePath) != "crash_1_case_1.c" {
		t.Errorf("source name = %q", filepath.Base(rec.SourcePath))
	}
	if filepath.Base(rec.LogPath) != "crash_1_case_1.log" {
		t.Errorf("log name = %q", filepath.Base(rec.LogPath))
	}

	copied, err := os.ReadFile(rec.SourcePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(copied, []byte(src)) {
		t.Errorf("crash copy differs from artifact")
	}

	crashes, err := s.Crashes()
	if err != nil {
		t.Fatalf("Crashes: %v", err)
	}
	if len(crashes) != 1 || crashes[0].ExitCode != 1 || crashes[0].Stderr != "parse error" || crashes[0].Stdout != "" {
		t.Errorf("Crashes = %+v", crashes)
	}

	if _, err := s.SaveCrash(a, outcome); err == nil {
		t.Error("saving the same crash twice should fail instead of overwriting")
	}
}

func TestCoverageSeries(t *testing.T) {
	s := newTestStore(t)
	_ = s.Coverage.Append(CoverageHeader)
	_ = s.Coverage.Append("1min0s,12.5")
	_ = s.Coverage.Append("2min0s,13.1")

	series, err := s.CoverageSeries()
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("len = %d, want 2", len(series))
	}
	if series[0].ElapsedLabel != "1min0s" || series[1].Value != "13.1" {
		t.Errorf("series = %+v", series)
	}
}

func TestArtifactStem(t *testing.T) {
	a := Artifact{Name: "case_12.cpp", Extension: ".cpp"}
	if a.Stem() != "case_12" {
		t.Errorf("Stem = %q", a.Stem())
	}
}
