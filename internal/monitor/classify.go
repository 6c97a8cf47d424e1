package monitor

import (
	"regexp"

	"llm-compiler-fuzz/internal/storage"
)

// Severity ranks how interesting a crash is for triage.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Crash kinds that are not matched by a diagnostic pattern.
const (
	KindTimeout  = "timeout"
	KindSignal   = "killed_by_signal"
	KindRejected = "rejected"
)

// CrashPattern matches a compiler diagnostic signature.
type CrashPattern struct {
	Kind     string
	Regex    *regexp.Regexp
	Severity Severity
}

// Classification labels one failing compile outcome.
type Classification struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
}

// CrashClassifier labels failing outcomes by the signature found in their
// captured streams. It only labels; every failure is archived regardless.
type CrashClassifier struct {
	patterns []CrashPattern
}

// NewCrashClassifier creates a classifier with default patterns.
func NewCrashClassifier() *CrashClassifier {
	return &CrashClassifier{patterns: defaultPatterns()}
}

// Classify returns the label of o. Patterns are tried in order against
// stderr then stdout.
func (c *CrashClassifier) Classify(o storage.CompileOutcome) Classification {
	for _, stream := range []string{o.Stderr, o.Stdout} {
		for _, p := range c.patterns {
			if p.Regex.MatchString(stream) {
				return Classification{Kind: p.Kind, Severity: p.Severity.String()}
			}
		}
	}

	switch {
	case o.TimedOut:
		return Classification{Kind: KindTimeout, Severity: SeverityMedium.String()}
	case o.ExitCode > 128 || o.ExitCode < 0:
		return Classification{Kind: KindSignal, Severity: SeverityHigh.String()}
	default:
		return Classification{Kind: KindRejected, Severity: SeverityLow.String()}
	}
}

func defaultPatterns() []CrashPattern {
	return []CrashPattern{
		{
			Kind:     "internal_compiler_error",
			Regex:    regexp.MustCompile(`(?i)internal compiler error|an exception has occurred in the compiler|please submit a full bug report`),
			Severity: SeverityCritical,
		},
		{
			Kind:     "assertion",
			Regex:    regexp.MustCompile(`(?i)assertion .*failed|assertion failed|jerry_assert|\bICE\b.*assert`),
			Severity: SeverityCritical,
		},
		{
			Kind:     "segfault",
			Regex:    regexp.MustCompile(`(?i)segmentation fault|SIGSEGV|AddressSanitizer`),
			Severity: SeverityCritical,
		},
		{
			Kind:     "stack_overflow",
			Regex:    regexp.MustCompile(`(?i)stack overflow|StackOverflowError|maximum recursion depth`),
			Severity: SeverityHigh,
		},
		{
			Kind:     "out_of_memory",
			Regex:    regexp.MustCompile(`(?i)out of memory|OutOfMemoryError|std::bad_alloc|virtual memory exhausted`),
			Severity: SeverityHigh,
		},
		{
			Kind:     "runtime_panic",
			Regex:    regexp.MustCompile(`(?m)^panic: |^fatal error: runtime|goroutine \d+ \[running\]`),
			Severity: SeverityHigh,
		},
	}
}
