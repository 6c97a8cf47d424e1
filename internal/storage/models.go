package storage

import "time"

// Artifact is one generated candidate source file.
type Artifact struct {
	Index     int       `json:"index"` // Dense, starting at 1
	Name      string    `json:"name"`  // case_<index><ext>
	Path      string    `json:"path"`
	Language  string    `json:"language"`
	Extension string    `json:"extension"`
	CreatedAt time.Time `json:"created_at"` // In-process clock, carries a monotonic reading
}

// Stem returns the artifact name without its extension.
func (a Artifact) Stem() string {
	return a.Name[:len(a.Name)-len(a.Extension)]
}

// GenerationAttempt is one generator invocation.
type GenerationAttempt struct {
	Attempt  int    `json:"attempt"`
	Artifact string `json:"artifact,omitempty"` // Empty when the generator returned nothing
	At       time.Time
}

// CompileOutcome is the result of compiling one artifact in one batch.
type CompileOutcome struct {
	BatchIndex int           `json:"batch_index" db:"batch_index"`
	Artifact   string        `json:"artifact" db:"artifact"`
	ExitCode   int           `json:"exit_code" db:"exit_code"`
	Stdout     string        `json:"stdout" db:"stdout"`
	Stderr     string        `json:"stderr" db:"stderr"`
	TimedOut   bool          `json:"timed_out" db:"timed_out"`
	Duration   time.Duration `json:"duration" db:"duration_ms"`
	At         time.Time     `json:"at" db:"created_at"`
}

// Failed reports whether the outcome should produce a crash record.
func (o CompileOutcome) Failed() bool {
	return o.TimedOut || o.ExitCode != 0
}

// CrashRecord points at the archived source and diagnostic log of a failing compile.
type CrashRecord struct {
	BatchIndex int    `json:"batch_index"`
	Artifact   string `json:"artifact"`
	SourcePath string `json:"source_path"`
	LogPath    string `json:"log_path"`
}

// CoverageSample is one row of the coverage-over-time series.
type CoverageSample struct {
	BatchIndex   int       `json:"batch_index" db:"batch_index"`
	ElapsedLabel string    `json:"elapsed_label" db:"elapsed_label"`
	Value        string    `json:"value" db:"value"`
	At           time.Time `json:"at" db:"created_at"`
}
