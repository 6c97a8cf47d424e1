package coverage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/harness"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
)

// ErrUnparsable is reported when the harness exits zero without a
// single-line value on stdout.
var ErrUnparsable = errors.New("unparsable coverage output")

// Recorder receives every sample that was written to the coverage log.
type Recorder interface {
	RecordCoverage(s storage.CoverageSample)
}

// Sampler runs the coverage harness once per processed batch.
type Sampler struct {
	script  *harness.Script
	store   *storage.Store
	width   time.Duration
	budget  time.Duration
	metrics *monitor.Metrics
	tracer  *monitor.Tracer

	// Audit, if set, receives each successful sample.
	Audit Recorder
}

// NewSampler creates a Sampler. width is the batch bucket width and budget
// the generation time budget; together they determine elapsed labels.
func NewSampler(script *harness.Script, store *storage.Store, width, budget time.Duration, metrics *monitor.Metrics) *Sampler {
	return &Sampler{
		script:  script,
		store:   store,
		width:   width,
		budget:  budget,
		metrics: metrics,
		tracer:  monitor.NewTracer(),
	}
}

// WriteHeader writes the coverage log header line.
func (s *Sampler) WriteHeader() error {
	return s.store.Coverage.Append(storage.CoverageHeader)
}

// ParseValue validates harness stdout and returns the trimmed value.
func ParseValue(stdout string) (string, error) {
	v := strings.TrimSpace(stdout)
	if v == "" || strings.ContainsAny(v, ",\n\r") {
		return "", ErrUnparsable
	}
	return v, nil
}

// Sample invokes the coverage harness for batchIndex and appends a row on
// success. Failures are logged and reported as false; they never abort the
// campaign and are not retried.
func (s *Sampler) Sample(ctx context.Context, batchIndex int) (storage.CoverageSample, bool) {
	ctx, span := s.tracer.Coverage(ctx, batchIndex)
	defer span.End()

	logger := log.With().Int("batch", batchIndex).Logger()
	sample := storage.CoverageSample{
		BatchIndex:   batchIndex,
		ElapsedLabel: ElapsedLabel(batchIndex, s.width, s.budget),
	}

	res, err := s.script.Run(ctx, s.store.Root())
	switch {
	case harness.IsTimeout(err):
		logger.Warn().Dur("timeout", s.script.Timeout).Msg("coverage harness timed out, sample skipped")
		return s.fail(sample)
	case err != nil:
		logger.Warn().Err(err).Msg("coverage harness could not run, sample skipped")
		return s.fail(sample)
	case res.ExitCode != 0:
		logger.Warn().
			Int("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("coverage harness failed, sample skipped")
		return s.fail(sample)
	}

	value, err := ParseValue(res.Stdout)
	if err != nil {
		logger.Warn().Str("raw", res.Stdout).Msg("coverage output unparsable, sample skipped")
		return s.fail(sample)
	}
	sample.Value = value
	sample.At = time.Now()

	if err := s.store.Coverage.Appendf("%s,%s", sample.ElapsedLabel, sample.Value); err != nil {
		logger.Error().Err(err).Msg("appending coverage row")
		return s.fail(sample)
	}

	if s.metrics != nil {
		s.metrics.RecordCoverage(true, value)
	}
	if s.Audit != nil {
		s.Audit.RecordCoverage(sample)
	}
	logger.Info().Str("elapsed", sample.ElapsedLabel).Str("coverage", value).Msg("coverage sampled")
	return sample, true
}

func (s *Sampler) fail(sample storage.CoverageSample) (storage.CoverageSample, bool) {
	if s.metrics != nil {
		s.metrics.RecordCoverage(false, "")
	}
	return sample, false
}
