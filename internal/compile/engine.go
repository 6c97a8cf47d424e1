// Package compile runs the compile harness over a batch and archives crashes.
package compile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"llm-compiler-fuzz/internal/batch"
	"llm-compiler-fuzz/internal/harness"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
)

const failRule = "=================================================================="

// Recorder receives every compile outcome once it has been logged.
type Recorder interface {
	RecordCompile(o storage.CompileOutcome)
}

// Report is the result of processing one batch.
type Report struct {
	BatchIndex int
	Outcomes   []storage.CompileOutcome
	Crashes    []storage.CrashRecord
}

// AllSucceeded reports whether no artifact in the batch failed.
func (r Report) AllSucceeded() bool {
	for _, o := range r.Outcomes {
		if o.Failed() {
			return false
		}
	}
	return true
}

// Engine is the compile-and-classify step.
type Engine struct {
	script     *harness.Script
	store      *storage.Store
	workers    int
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer
	classifier *monitor.CrashClassifier

	// Audit, if set, receives each outcome after it is logged.
	Audit Recorder
	// OnCrash, if set, is called for each archived crash.
	OnCrash func(storage.CrashRecord, monitor.Classification)
}

// NewEngine creates an Engine. workers > 1 compiles a batch concurrently;
// log and crash writes still happen in batch order.
func NewEngine(script *harness.Script, store *storage.Store, workers int, metrics *monitor.Metrics) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		script:     script,
		store:      store,
		workers:    workers,
		metrics:    metrics,
		tracer:     monitor.NewTracer(),
		classifier: monitor.NewCrashClassifier(),
	}
}

// Process compiles every artifact of b. Compile failures are recorded and
// never stop the batch. An error is returned only when the harness itself
// cannot be run or the artifact store cannot be written; it is checked
// before the first artifact.
func (e *Engine) Process(ctx context.Context, b batch.Batch) (Report, error) {
	ctx, span := e.tracer.Batch(ctx, b.Index, len(b.Artifacts))
	defer span.End()

	report := Report{BatchIndex: b.Index}

	if err := e.script.Check(); err != nil {
		monitor.Fail(span, err)
		return report, fmt.Errorf("batch %d: %w", b.Index, err)
	}

	log.Info().Int("batch", b.Index).Int("artifacts", len(b.Artifacts)).Msg("processing batch")

	var err error
	if e.workers == 1 {
		err = e.processSequential(ctx, b, &report)
	} else {
		err = e.processParallel(ctx, b, &report)
	}
	if err != nil {
		monitor.Fail(span, err)
		return report, err
	}

	if e.metrics != nil {
		e.metrics.BatchesProcessed.Inc()
	}
	return report, nil
}

func (e *Engine) processSequential(ctx context.Context, b batch.Batch, report *Report) error {
	for _, a := range b.Artifacts {
		o, err := e.compile(ctx, b.Index, a)
		if err != nil {
			return err
		}
		if err := e.record(b.Index, a, o, report); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processParallel(ctx context.Context, b batch.Batch, report *Report) error {
	outcomes := make([]storage.CompileOutcome, len(b.Artifacts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, a := range b.Artifacts {
		g.Go(func() error {
			o, err := e.compile(gctx, b.Index, a)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, a := range b.Artifacts {
		if err := e.record(b.Index, a, outcomes[i], report); err != nil {
			return err
		}
	}
	return nil
}

// compile runs the harness for one artifact. A timeout becomes a failing
// outcome with exit code -1.
func (e *Engine) compile(ctx context.Context, batchIndex int, a storage.Artifact) (storage.CompileOutcome, error) {
	ctx, span := e.tracer.Compile(ctx, batchIndex, a.Name)
	defer span.End()

	log.Debug().Int("batch", batchIndex).Str("artifact", a.Name).Msg("compiling")

	res, err := e.script.Run(ctx, e.store.Root(), a.Path)
	if err != nil && !harness.IsTimeout(err) {
		monitor.Fail(span, err)
		return storage.CompileOutcome{}, fmt.Errorf("compiling %s: %w", a.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return storage.CompileOutcome{}, fmt.Errorf("compiling %s: %w", a.Name, err)
	}

	o := storage.CompileOutcome{
		BatchIndex: batchIndex,
		Artifact:   a.Name,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		TimedOut:   res.TimedOut,
		Duration:   res.Duration,
		At:         time.Now(),
	}
	monitor.CompileResult(span, o.ExitCode, o.TimedOut, o.Duration)
	return o, nil
}

func (e *Engine) record(batchIndex int, a storage.Artifact, o storage.CompileOutcome, report *Report) error {
	report.Outcomes = append(report.Outcomes, o)

	if !o.Failed() {
		e.observe("ok", o)
		if err := e.store.Compiler.Appendf("%d,%s,OK", batchIndex, a.Name); err != nil {
			return err
		}
		e.audit(o)
		return nil
	}

	status := "fail"
	if o.TimedOut {
		status = "timeout"
	}
	e.observe(status, o)

	if err := e.store.Compiler.Append(FailBlock(o)); err != nil {
		return err
	}
	rec, err := e.store.SaveCrash(a, o)
	if err != nil {
		return fmt.Errorf("archiving crash for %s: %w", a.Name, err)
	}
	report.Crashes = append(report.Crashes, *rec)

	class := e.classifier.Classify(o)
	if e.metrics != nil {
		e.metrics.RecordCrash(class.Kind)
	}
	log.Warn().
		Int("batch", batchIndex).
		Str("artifact", a.Name).
		Int("exit_code", o.ExitCode).
		Bool("timed_out", o.TimedOut).
		Str("kind", class.Kind).
		Str("severity", class.Severity).
		Str("crash_log", rec.LogPath).
		Msg("compile failure archived")

	if e.OnCrash != nil {
		e.OnCrash(*rec, class)
	}
	e.audit(o)
	return nil
}

func (e *Engine) observe(status string, o storage.CompileOutcome) {
	if e.metrics != nil {
		e.metrics.RecordCompile(status, o.Duration.Seconds())
	}
}

func (e *Engine) audit(o storage.CompileOutcome) {
	if e.Audit != nil {
		e.Audit.RecordCompile(o)
	}
}

// FailBlock renders the compiler.log entry of a failing outcome.
func FailBlock(o storage.CompileOutcome) string {
	return strings.Join([]string{
		fmt.Sprintf("--- FAIL batch %d: %s (exit %d) ---", o.BatchIndex, o.Artifact, o.ExitCode),
		"=== STDOUT ===",
		strings.TrimSpace(o.Stdout),
		"=== STDERR ===",
		strings.TrimSpace(o.Stderr),
		failRule,
	}, "\n")
}
