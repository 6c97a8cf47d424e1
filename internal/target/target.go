package target

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// ErrUnknownTarget is returned when a compiler identifier is not in the table.
var ErrUnknownTarget = errors.New("unknown target")

// Fallback is the identifier used when lenient lookup meets an unknown target.
const Fallback = "java"

// Target describes one compiler under test.
type Target struct {
	// ID is the compiler identifier from the config (e.g. "gcc").
	ID string
	// Extension is the source file extension including the dot.
	Extension string
	// Language is the name substituted into the generation prompt.
	Language string
}

// CompileScript returns the compile harness path under harnessRoot.
func (t Target) CompileScript(harnessRoot string) string {
	return filepath.Join(harnessRoot, t.ID, "compiler.sh")
}

// CoverageScript returns the coverage harness path under harnessRoot.
func (t Target) CoverageScript(harnessRoot string) string {
	return filepath.Join(harnessRoot, t.ID, "coverage.sh")
}

// UsesGcov reports whether coverage state lives in gcov .gcda files that
// must be cleared before a campaign starts.
func (t Target) UsesGcov() bool {
	return t.ID == "gcc" || t.ID == "g++"
}

// Registry maps compiler identifiers to their Target.
type Registry struct {
	targets map[string]Target
}

// NewRegistry creates a registry with all supported compilers.
func NewRegistry() *Registry {
	r := &Registry{targets: make(map[string]Target)}
	r.Register(Target{ID: "java", Extension: ".java", Language: "java"})
	r.Register(Target{ID: "gcc", Extension: ".c", Language: "c"})
	r.Register(Target{ID: "clang", Extension: ".c", Language: "c"})
	r.Register(Target{ID: "g++", Extension: ".cpp", Language: "cpp"})
	r.Register(Target{ID: "go", Extension: ".go", Language: "go"})
	r.Register(Target{ID: "jerryscript", Extension: ".js", Language: "javascript"})
	return r
}

// Register adds a target to the registry, replacing any with the same ID.
func (r *Registry) Register(t Target) {
	r.targets[t.ID] = t
}

// Get returns the target for the given identifier.
func (r *Registry) Get(id string) (Target, error) {
	t, ok := r.targets[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownTarget, id, r.IDs())
	}
	return t, nil
}

// Resolve is Get with an optional fallback to the java extension and
// language. A fallback target keeps id, so its harness scripts are still
// looked up under <harness_root>/<id>. The second return value is true when
// the fallback was used.
func (r *Registry) Resolve(id string, lenient bool) (Target, bool, error) {
	t, err := r.Get(id)
	if err == nil {
		return t, false, nil
	}
	if !lenient {
		return Target{}, false, err
	}
	fb, fbErr := r.Get(Fallback)
	if fbErr != nil {
		return Target{}, false, err
	}
	return Target{ID: id, Extension: fb.Extension, Language: fb.Language}, true, nil
}

// IDs returns all registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
