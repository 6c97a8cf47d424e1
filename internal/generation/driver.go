package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/llm"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
	"llm-compiler-fuzz/internal/target"
)

// LogHeader is the first line of logs/generation.log.
const LogHeader = "llm_calls,valid"

// Result is the outcome of one generation phase.
type Result struct {
	Start     time.Time
	Attempts  int
	Valid     int
	Artifacts []storage.Artifact // Ordered by index
}

// ValidRate returns Valid/Attempts. ok is false when there were no attempts.
func (r Result) ValidRate() (rate float64, ok bool) {
	if r.Attempts == 0 {
		return 0, false
	}
	return float64(r.Valid) / float64(r.Attempts), true
}

// FormatValidRate renders the rate as a percentage with two decimals, or
// "undefined" when there were no attempts.
func (r Result) FormatValidRate() string {
	rate, ok := r.ValidRate()
	if !ok {
		return "undefined"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

// Driver runs the generation phase.
type Driver struct {
	gen     llm.Generator
	store   *storage.Store
	target  target.Target
	metrics *monitor.Metrics
	// failLog reports generator errors. A generator that is down fails on
	// every call, so it is sampled.
	failLog zerolog.Logger

	// Now is the clock. Tests replace it.
	Now func() time.Time
	// OnAttempt, if set, is called after every generator invocation.
	OnAttempt func(storage.GenerationAttempt)
}

// NewDriver creates a Driver writing artifacts for t into store.
func NewDriver(gen llm.Generator, store *storage.Store, t target.Target, metrics *monitor.Metrics) *Driver {
	return &Driver{
		gen:     gen,
		store:   store,
		target:  t,
		metrics: metrics,
		failLog: log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
		Now:     time.Now,
	}
}

// Run invokes the generator until budget has elapsed. The budget is only
// checked between calls; an in-flight call always completes. Generator
// failures count as attempts and are not retried.
func (d *Driver) Run(ctx context.Context, budget time.Duration) (Result, error) {
	res := Result{Start: d.Now()}
	prompt := Prompt(d.target.Language)

	if err := d.store.Generation.Append(LogHeader); err != nil {
		return res, err
	}

	failures := 0
	for d.Now().Sub(res.Start) < budget {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("generation interrupted after %d attempts: %w", res.Attempts, err)
		}
		res.Attempts++

		callStart := d.Now()
		code, err := d.gen.Generate(ctx, prompt)
		at := d.Now()
		attempt := storage.GenerationAttempt{Attempt: res.Attempts, At: at}

		switch {
		case err != nil:
			failures++
			d.failLog.Warn().Err(err).
				Int("attempt", res.Attempts).
				Int("consecutive_failures", failures).
				Msg("generator call failed")
			d.record("error", at.Sub(callStart))
		case strings.TrimSpace(code) == "":
			failures = 0
			d.record("empty", at.Sub(callStart))
		default:
			failures = 0
			res.Valid++
			a, err := d.persist(res.Valid, code, at)
			if err != nil {
				return res, err
			}
			res.Artifacts = append(res.Artifacts, a)
			attempt.Artifact = a.Name
			d.record("valid", at.Sub(callStart))

			if err := d.store.Generation.Appendf("%d,%d,%s", res.Attempts, res.Valid, a.Name); err != nil {
				return res, err
			}
			log.Debug().Int("attempt", res.Attempts).Str("artifact", a.Name).Msg("artifact saved")
		}

		if d.OnAttempt != nil {
			d.OnAttempt(attempt)
		}
	}

	if err := d.store.Generation.Appendf("Generated calls: %d,valid codes: %d", res.Attempts, res.Valid); err != nil {
		return res, err
	}
	if err := d.store.Generation.Append("valid rate: " + res.FormatValidRate()); err != nil {
		return res, err
	}

	log.Info().
		Int("attempts", res.Attempts).
		Int("valid", res.Valid).
		Str("valid_rate", res.FormatValidRate()).
		Msg("generation phase complete")
	return res, nil
}

func (d *Driver) persist(index int, code string, at time.Time) (storage.Artifact, error) {
	name := fmt.Sprintf("case_%d%s", index, d.target.Extension)
	path, err := d.store.WriteArtifact(name, code)
	if err != nil {
		return storage.Artifact{}, err
	}
	return storage.Artifact{
		Index:     index,
		Name:      name,
		Path:      path,
		Language:  d.target.Language,
		Extension: d.target.Extension,
		CreatedAt: at,
	}, nil
}

func (d *Driver) record(result string, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordGeneration(result, elapsed.Seconds())
	}
}
