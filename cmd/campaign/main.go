package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"llm-compiler-fuzz/internal/api"
	"llm-compiler-fuzz/internal/campaign"
	"llm-compiler-fuzz/internal/config"
	"llm-compiler-fuzz/internal/llm"
	"llm-compiler-fuzz/internal/monitor"
	"llm-compiler-fuzz/internal/storage"
	"llm-compiler-fuzz/internal/target"
)

var (
	gpu       string
	logFormat string
	envFile   string
)

func main() {
	root := &cobra.Command{
		Use:           "campaign",
		Short:         "LLM-driven compiler fuzzing campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log output format (console, json)")

	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a fuzzing campaign described by a YAML config",
		Args:  cobra.ExactArgs(1),
		RunE:  runCampaign,
	}
	runCmd.Flags().StringVar(&gpu, "gpu", "0", "Compute devices for the generator, e.g. '0' or '0,1,2,3'")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with API keys")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "inspect [work_dir]",
		Short: "Summarize a finished campaign directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	})

	root.AddCommand(&cobra.Command{
		Use:   "targets",
		Short: "List supported compiler targets",
		Args:  cobra.NoArgs,
		RunE:  runTargets,
	})

	if err := root.Execute(); err != nil {
		setupLogging("info")
		log.Error().Err(err).Msg("campaign failed")
		os.Exit(1)
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if logFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func runCampaign(cmd *cobra.Command, args []string) error {
	setupLogging("info")

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", envFile).Msg("could not read env file")
	}

	devices, err := config.ParseDevices(gpu)
	if err != nil {
		return fmt.Errorf("--gpu: %w", err)
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	campaignID := uuid.New().String()
	metrics := monitor.NewMetrics()
	deps := campaign.Deps{CampaignID: campaignID, Metrics: metrics}

	// Database is optional; the campaign runs without it.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
			auditWriter := storage.NewAuditWriter(db, campaignID, 10000)
			auditWriter.Start()
			defer auditWriter.Flush(10 * time.Second)
			deps.Audit = auditWriter
			deps.Log = db
		}
	}

	gen, err := llm.New(ctx, llm.Spec{
		Backend:   cfg.Generator.Backend,
		Command:   cfg.Generator.Command,
		BaseURL:   cfg.Generator.BaseURL,
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Devices:   devices,
	}, llm.Options{
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
		MaxLength:   cfg.MaxLength,
		BatchSize:   cfg.BatchSize,
		Timeout:     cfg.Generator.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	defer func() {
		if err := gen.Close(); err != nil {
			log.Warn().Err(err).Msg("closing generator")
		}
	}()
	deps.Generator = gen

	controller, err := campaign.New(cfg, deps)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		var health api.HealthChecker
		if db != nil {
			health = db
		}
		server := api.NewServer(cfg.Metrics.Listen, controller, cfg.WorkDir, health, metrics)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("status server shutdown error")
			}
		}()
	}

	log.Info().
		Str("campaign_id", campaignID).
		Str("target", cfg.Target).
		Str("work_dir", cfg.WorkDir).
		Str("model", cfg.ModelName).
		Int("time_budget", cfg.TimeBudget).
		Ints("devices", devices).
		Bool("db_enabled", deps.Log != nil).
		Msg("campaign starting")

	summary, err := controller.Run(ctx)
	if err != nil {
		return err
	}
	summary.Print(cmd.OutOrStdout())
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	setupLogging("warn")

	workDir, err := config.ResolvePath(args[0])
	if err != nil {
		return err
	}
	store, err := storage.Open(workDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	artifacts, err := store.CountArtifacts()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Work dir:  %s\n", store.Root())
	fmt.Fprintf(out, "Artifacts: %d\n", artifacts)

	if lines, err := store.Generation.Lines(); err == nil {
		for _, l := range lines {
			if strings.HasPrefix(l, "Generated calls:") || strings.HasPrefix(l, "valid rate:") {
				fmt.Fprintln(out, l)
			}
		}
	}

	crashes, err := store.Crashes()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nCrashes: %d\n", len(crashes))
	if len(crashes) > 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BATCH\tARTIFACT\tEXIT\tTIMED OUT\tFIRST STDERR LINE")
		for _, c := range crashes {
			first, _, _ := strings.Cut(strings.TrimSpace(c.Stderr), "\n")
			fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\n", c.BatchIndex, c.Artifact, c.ExitCode, c.TimedOut, first)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	series, err := store.CoverageSeries()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nCoverage samples: %d\n", len(series))
	for _, s := range series {
		fmt.Fprintf(out, "  %s\t%s\n", s.ElapsedLabel, s.Value)
	}
	return nil
}

func runTargets(cmd *cobra.Command, _ []string) error {
	reg := target.NewRegistry()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tEXTENSION\tLANGUAGE")
	for _, id := range reg.IDs() {
		t, err := reg.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Extension, t.Language)
	}
	return tw.Flush()
}
