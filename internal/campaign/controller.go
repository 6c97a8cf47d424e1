// Package campaign sequences a fuzzing campaign: bootstrap, generation,
// partitioning, then compile-and-classify plus a coverage sample per batch.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-compiler-fuzz/internal/batch"
	"llm-compiler-fuzz/internal/compile"
	"llm-compiler-fuzz/internal/config"
	"llm-compiler-fuzz/internal/coverage"
	"llm-compiler-fuzz/internal/generation"
	"llm-compiler-fuzz/internal/harness"
	"llm-compiler-fuzz/internal/llm"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
	"llm-compiler-fuzz/internal/target"
)

// ErrAborted is returned when the campaign refuses to start because its
// work directory already exists.
var ErrAborted = errors.New("campaign aborted")

// AuditRecorder receives compile outcomes and coverage samples.
// *storage.AuditWriter implements it.
type AuditRecorder interface {
	compile.Recorder
	coverage.Recorder
}

// CampaignLog persists campaign rows. *storage.DB implements it.
type CampaignLog interface {
	StartCampaign(ctx context.Context, c *storage.Campaign) error
	FinishCampaign(ctx context.Context, id string, attempts, valid int, finishedAt time.Time) error
}

// Deps are the collaborators of a Controller. Only Generator is required.
type Deps struct {
	CampaignID string
	Generator  llm.Generator
	Metrics    *monitor.Metrics
	Audit      AuditRecorder
	Log        CampaignLog
	Now        func() time.Time
}

// Status is a point-in-time snapshot of a running campaign.
type Status struct {
	CampaignID      string         `json:"campaign_id"`
	Target          string         `json:"target"`
	WorkDir         string         `json:"work_dir"`
	State           string         `json:"state"`
	StartedAt       time.Time      `json:"started_at"`
	Attempts        int            `json:"attempts"`
	Valid           int            `json:"valid"`
	Batches         int            `json:"batches"`
	BatchesDone     int            `json:"batches_done"`
	Crashes         int            `json:"crashes"`
	CrashesByKind   map[string]int `json:"crashes_by_kind"`
	CoverageSamples int            `json:"coverage_samples"`
	LastCoverage    string         `json:"last_coverage,omitempty"`
}

// Summary is the final report of a completed campaign.
type Summary struct {
	Attempts        int
	Valid           int
	ValidRate       string
	Batches         int
	Crashes         int
	CoverageSamples int
	GenerationLog   string
	CompilerLog     string
	CrashesDir      string
	CoverageDir     string
	CoverageLog     string
}

// Print writes the end-of-run report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "All done.")
	fmt.Fprintf(w, "Generated calls: %d, valid codes: %d\n", s.Attempts, s.Valid)
	fmt.Fprintf(w, "valid rate: %s\n", s.ValidRate)
	fmt.Fprintf(w, "Batches: %d, crashes: %d, coverage samples: %d\n", s.Batches, s.Crashes, s.CoverageSamples)
	fmt.Fprintf(w, "Generation log: %s\n", s.GenerationLog)
	fmt.Fprintf(w, "Compiler   log: %s\n", s.CompilerLog)
	fmt.Fprintf(w, "Crashes   dir: %s\n", s.CrashesDir)
	fmt.Fprintf(w, "Coverage   dir: %s\n", s.CoverageDir)
	fmt.Fprintf(w, "Coverage   log: %s\n", s.CoverageLog)
}

// Controller drives one campaign. It is single-use.
type Controller struct {
	cfg    *config.Config
	target target.Target
	deps   Deps
	tracer *monitor.Tracer
	logger zerolog.Logger

	mu     sync.RWMutex
	state  State
	status Status
}

// New validates cfg and prepares a Controller.
func New(cfg *config.Config, deps Deps) (*Controller, error) {
	if deps.Generator == nil {
		return nil, errors.New("campaign: generator is required")
	}
	t, err := cfg.ResolveTarget()
	if err != nil {
		return nil, err
	}
	if deps.CampaignID == "" {
		deps.CampaignID = uuid.New().String()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Controller{
		cfg:    cfg,
		target: t,
		deps:   deps,
		tracer: monitor.NewTracer(),
		logger: log.With().Str("campaign_id", deps.CampaignID).Str("target", t.ID).Logger(),
		status: Status{
			CampaignID:    deps.CampaignID,
			Target:        t.ID,
			WorkDir:       cfg.WorkDir,
			CrashesByKind: make(map[string]int),
		},
	}
	c.setState(StateBootstrapping)
	return c, nil
}

// ID returns the campaign identifier.
func (c *Controller) ID() string { return c.deps.CampaignID }

// Metrics returns the campaign metrics.
func (c *Controller) Metrics() *monitor.Metrics { return c.deps.Metrics }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot safe to use from other goroutines.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.CrashesByKind = make(map[string]int, len(c.status.CrashesByKind))
	for k, v := range c.status.CrashesByKind {
		s.CrashesByKind[k] = v
	}
	return s
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.status.State = s.String()
	c.mu.Unlock()

	c.deps.Metrics.SetState(s.String(), stateNames)
	c.logger.Info().Str("state", s.String()).Msg("campaign state")
}

func (c *Controller) update(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}

// Run executes the campaign to completion. Compile crashes and coverage
// failures are recorded, never returned. Errors are limited to the fatal
// preconditions (existing work_dir, missing harness) and storage failures.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if c.State() != StateBootstrapping {
		return Summary{}, fmt.Errorf("campaign %s already ran", c.ID())
	}

	ctx, span := c.tracer.Campaign(ctx, c.ID(), c.target.ID)
	defer span.End()

	summary, err := c.run(ctx)
	if err != nil {
		monitor.Fail(span, err)
	}
	return summary, err
}

func (c *Controller) run(ctx context.Context) (Summary, error) {
	store, err := storage.Create(c.cfg.WorkDir)
	if err != nil {
		if errors.Is(err, storage.ErrWorkDirExists) {
			c.setState(StateAborted)
			return Summary{}, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return Summary{}, err
	}

	compileScript := harness.NewScript(c.target.CompileScript(c.cfg.HarnessRoot), c.cfg.CompileTimeout)
	coverageScript := harness.NewScript(c.target.CoverageScript(c.cfg.HarnessRoot), c.cfg.CoverageTimeout)
	for _, s := range []*harness.Script{compileScript, coverageScript} {
		if err := s.Check(); err != nil {
			return Summary{}, fmt.Errorf("bootstrap: %w", err)
		}
	}

	c.logger.Info().
		Str("codes", store.CodesPath()).
		Str("crashes", store.CrashesPath()).
		Str("coverage", store.CoveragePath()).
		Msg("work_dir created")

	coverage.CleanGcov(c.target, c.cfg.HarnessRoot)

	if c.deps.Log != nil {
		row := &storage.Campaign{
			ID:         c.ID(),
			Target:     c.target.ID,
			WorkDir:    c.cfg.WorkDir,
			ModelName:  c.cfg.ModelName,
			TimeBudget: c.cfg.TimeBudget,
			StartedAt:  c.deps.Now(),
		}
		if err := c.deps.Log.StartCampaign(ctx, row); err != nil {
			c.logger.Warn().Err(err).Msg("recording campaign start failed")
		}
	}

	// Generation phase.
	c.setState(StateGenerating)
	driver := generation.NewDriver(c.deps.Generator, store, c.target, c.deps.Metrics)
	driver.Now = c.deps.Now
	driver.OnAttempt = func(a storage.GenerationAttempt) {
		c.update(func(s *Status) {
			s.Attempts = a.Attempt
			if a.Artifact != "" {
				s.Valid++
			}
		})
	}
	c.update(func(s *Status) { s.StartedAt = c.deps.Now() })

	gen, err := driver.Run(ctx, c.cfg.TimeBudgetDuration())
	if err != nil {
		return Summary{}, err
	}

	// Partitioning.
	c.setState(StatePartitioning)
	batches := batch.Partition(gen.Artifacts, c.cfg.CoverageInterval(), gen.Start)
	c.update(func(s *Status) { s.Batches = len(batches) })
	c.logger.Info().Int("batches", len(batches)).Int("artifacts", len(gen.Artifacts)).Msg("artifacts partitioned")

	// Compile, classify and sample coverage per batch.
	c.setState(StateProcessingBatches)
	engine := compile.NewEngine(compileScript, store, c.cfg.CompileWorkers, c.deps.Metrics)
	sampler := coverage.NewSampler(coverageScript, store, c.cfg.CoverageInterval(), c.cfg.TimeBudgetDuration(), c.deps.Metrics)
	if c.deps.Audit != nil {
		engine.Audit = c.deps.Audit
		sampler.Audit = c.deps.Audit
	}
	engine.OnCrash = func(_ storage.CrashRecord, class monitor.Classification) {
		c.update(func(s *Status) {
			s.Crashes++
			s.CrashesByKind[class.Kind]++
		})
	}

	if err := sampler.WriteHeader(); err != nil {
		return Summary{}, err
	}

	crashes, samples := 0, 0
	for _, b := range batches {
		report, err := engine.Process(ctx, b)
		if err != nil {
			return Summary{}, err
		}
		crashes += len(report.Crashes)

		sample, ok := sampler.Sample(ctx, b.Index)
		if ok {
			samples++
		}
		c.update(func(s *Status) {
			s.BatchesDone++
			if ok {
				s.CoverageSamples++
				s.LastCoverage = sample.Value
			}
		})
	}

	c.setState(StateDone)

	if c.deps.Log != nil {
		if err := c.deps.Log.FinishCampaign(ctx, c.ID(), gen.Attempts, gen.Valid, c.deps.Now()); err != nil {
			c.logger.Warn().Err(err).Msg("recording campaign completion failed")
		}
	}

	return Summary{
		Attempts:        gen.Attempts,
		Valid:           gen.Valid,
		ValidRate:       gen.FormatValidRate(),
		Batches:         len(batches),
		Crashes:         crashes,
		CoverageSamples: samples,
		GenerationLog:   store.Generation.Path(),
		CompilerLog:     store.Compiler.Path(),
		CrashesDir:      store.CrashesPath(),
		CoverageDir:     store.CoveragePath(),
		CoverageLog:     store.Coverage.Path(),
	}, nil
}
