package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrWorkDirExists is returned when a campaign would overwrite a prior run.
var ErrWorkDirExists = errors.New("work_dir already exists")

// Layout names under the campaign work directory.
const (
	CodesDir      = "codes"
	CrashesDir    = "crashes"
	CoverageDir   = "coverage"
	LogsDir       = "logs"
	GenerationLog = "generation.log"
	CompilerLog   = "compiler.log"
	CoverageLog   = "coverage.log"
)

// Store is the on-disk artifact store of one campaign.
type Store struct {
	root string

	Generation *LogFile
	Compiler   *LogFile
	Coverage   *LogFile
}

// Create bootstraps a new campaign directory. It refuses to touch an
// existing path.
func Create(workDir string) (*Store, error) {
	if _, err := os.Lstat(workDir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkDirExists, workDir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking work_dir: %w", err)
	}

	for _, d := range []string{CodesDir, CrashesDir, CoverageDir, LogsDir} {
		if err := os.MkdirAll(filepath.Join(workDir, d), 0o755); err != nil { // #nosec G301 -- shared with harness scripts
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	s := newStore(workDir)
	for _, l := range []*LogFile{s.Generation, s.Compiler, s.Coverage} {
		if err := os.WriteFile(l.Path(), nil, 0o644); err != nil { // #nosec G306 -- plain text logs
			return nil, fmt.Errorf("creating %s: %w", l.Path(), err)
		}
	}
	return s, nil
}

// Open attaches to an existing campaign directory for reading.
func Open(workDir string) (*Store, error) {
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("opening work_dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work_dir %s is not a directory", workDir)
	}
	return newStore(workDir), nil
}

func newStore(root string) *Store {
	logs := filepath.Join(root, LogsDir)
	return &Store{
		root:       root,
		Generation: NewLogFile(filepath.Join(logs, GenerationLog)),
		Compiler:   NewLogFile(filepath.Join(logs, CompilerLog)),
		Coverage:   NewLogFile(filepath.Join(logs, CoverageLog)),
	}
}

// Root returns the work directory.
func (s *Store) Root() string { return s.root }

// CodesPath returns the directory holding generated artifacts.
func (s *Store) CodesPath() string { return filepath.Join(s.root, CodesDir) }

// CrashesPath returns the directory holding crash records.
func (s *Store) CrashesPath() string { return filepath.Join(s.root, CrashesDir) }

// CoveragePath returns the directory reserved for harness-owned coverage files.
func (s *Store) CoveragePath() string { return filepath.Join(s.root, CoverageDir) }

// WriteArtifact persists generated source text under codes/name.
func (s *Store) WriteArtifact(name, text string) (string, error) {
	path := filepath.Join(s.CodesPath(), name)
	if err := writeNew(path, []byte(text)); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return path, nil
}

// CrashSourceName is the archived copy name of a failing artifact.
func CrashSourceName(batchIndex int, artifactName string) string {
	return fmt.Sprintf("crash_%d_%s", batchIndex, artifactName)
}

// CrashLogName is the diagnostic log name of a failing artifact.
func CrashLogName(batchIndex int, stem string) string {
	return fmt.Sprintf("crash_%d_%s.log", batchIndex, stem)
}

// SaveCrash archives a byte-identical copy of the artifact plus its
// diagnostic log. Existing crash files are never overwritten.
func (s *Store) SaveCrash(a Artifact, outcome CompileOutcome) (*CrashRecord, error) {
	src, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", a.Name, err)
	}

	rec := &CrashRecord{
		BatchIndex: outcome.BatchIndex,
		Artifact:   a.Name,
		SourcePath: filepath.Join(s.CrashesPath(), CrashSourceName(outcome.BatchIndex, a.Name)),
		LogPath:    filepath.Join(s.CrashesPath(), CrashLogName(outcome.BatchIndex, a.Stem())),
	}

	if err := writeNew(rec.SourcePath, src); err != nil {
		return nil, fmt.Errorf("archiving crash source: %w", err)
	}
	if info, err := os.Stat(a.Path); err == nil {
		_ = os.Chtimes(rec.SourcePath, info.ModTime(), info.ModTime())
	}

	if err := WriteCrashLog(rec.LogPath, CrashLogFromOutcome(outcome)); err != nil {
		return nil, fmt.Errorf("writing crash log: %w", err)
	}
	return rec, nil
}

// CountArtifacts returns the number of files under codes/.
func (s *Store) CountArtifacts() (int, error) {
	entries, err := os.ReadDir(s.CodesPath())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

// Crashes parses every diagnostic log under crashes/, ordered by file name.
func (s *Store) Crashes() ([]CrashLog, error) {
	paths, err := filepath.Glob(filepath.Join(s.CrashesPath(), "crash_*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	logs := make([]CrashLog, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) // #nosec G304 -- globbed from the campaign directory
		if err != nil {
			return nil, err
		}
		c, err := ParseCrashLog(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		logs = append(logs, c)
	}
	return logs, nil
}

// CoverageSeries reads the data rows of logs/coverage.log. Batch indexes
// are not recorded in the log, so BatchIndex is left zero.
func (s *Store) CoverageSeries() ([]CoverageSample, error) {
	lines, err := s.Coverage.Lines()
	if err != nil {
		return nil, err
	}
	var samples []CoverageSample
	for i, line := range lines {
		if i == 0 && line == CoverageHeader {
			continue
		}
		label, value, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("coverage.log line %d: missing comma", i+1)
		}
		samples = append(samples, CoverageSample{
			ElapsedLabel: label,
			Value:        value,
		})
	}
	return samples, nil
}

// CoverageHeader is the first line of logs/coverage.log.
const CoverageHeader = "run_time, coverage"

func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G302 G304 -- campaign-owned file
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
