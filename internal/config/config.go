package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"llm-compiler-fuzz/internal/target"
)

// Config holds all campaign configuration.
type Config struct {
	Target                  string  `yaml:"target" validate:"required"`
	WorkDir                 string  `yaml:"work_dir" validate:"required"`
	ModelName               string  `yaml:"model_name" validate:"required"`
	Temperature             float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxLength               int     `yaml:"max_length" validate:"gt=0"`
	BatchSize               int     `yaml:"batch_size" validate:"gt=0"`
	TimeBudget              int     `yaml:"time_budget" validate:"gt=0"`
	CoverageIntervalSeconds int     `yaml:"coverage_interval_seconds" validate:"gt=0"`

	HarnessRoot     string        `yaml:"harness_root" validate:"required"`
	CompileTimeout  time.Duration `yaml:"compile_timeout" validate:"gt=0"`
	CoverageTimeout time.Duration `yaml:"coverage_timeout" validate:"gt=0"`
	CompileWorkers  int           `yaml:"compile_workers" validate:"gte=1,lte=256"`
	LenientTarget   bool          `yaml:"lenient_target"`
	LogLevel        string        `yaml:"log_level" validate:"oneof=debug info warn error"`

	Generator GeneratorConfig `yaml:"generator"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GeneratorConfig selects and tunes the content generator backend.
type GeneratorConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=command openai gemini"`
	Command        []string      `yaml:"command"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from the CLI argument
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	workDir, err := ResolvePath(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolving work_dir: %w", err)
	}
	cfg.WorkDir = workDir

	harnessRoot, err := ResolvePath(cfg.HarnessRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving harness_root: %w", err)
	}
	cfg.HarnessRoot = harnessRoot

	return cfg, nil
}

// DefaultConfig returns defaults for every optional key. Required keys stay empty.
func DefaultConfig() *Config {
	return &Config{
		Temperature:             1,
		MaxLength:               512,
		BatchSize:               8,
		CoverageIntervalSeconds: 3600,
		HarnessRoot:             "target",
		CompileTimeout:          60 * time.Second,
		CoverageTimeout:         10 * time.Minute,
		CompileWorkers:          1,
		LogLevel:                "info",
		Generator: GeneratorConfig{
			Backend:        "command",
			BaseURL:        "http://localhost:8000/v1",
			RequestTimeout: 5 * time.Minute,
		},
	}
}

var validate = validator.New()

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if _, fellBack, err := target.NewRegistry().Resolve(c.Target, c.LenientTarget); err != nil {
		return fmt.Errorf("target: %w", err)
	} else if fellBack {
		log.Warn().Str("target", c.Target).Str("fallback", target.Fallback).
			Msg("unknown target, falling back because lenient_target is set")
	}

	switch c.Generator.Backend {
	case "command":
		if len(c.Generator.Command) == 0 {
			return fmt.Errorf("generator.command is required for the command backend")
		}
	case "gemini":
		if c.Generator.APIKeyEnv == "" {
			return fmt.Errorf("generator.api_key_env is required for the gemini backend")
		}
	case "openai":
		if !strings.HasPrefix(c.Generator.BaseURL, "http://") && !strings.HasPrefix(c.Generator.BaseURL, "https://") {
			return fmt.Errorf("generator.base_url must be an http(s) URL, got %q", c.Generator.BaseURL)
		}
	}

	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, audit connections are unencrypted")
	}
	return nil
}

// ResolveTarget returns the target selected by the config.
func (c *Config) ResolveTarget() (target.Target, error) {
	t, _, err := target.NewRegistry().Resolve(c.Target, c.LenientTarget)
	return t, err
}

// TimeBudgetDuration returns time_budget as a duration.
func (c *Config) TimeBudgetDuration() time.Duration {
	return time.Duration(c.TimeBudget) * time.Second
}

// CoverageInterval returns coverage_interval_seconds as a duration.
func (c *Config) CoverageInterval() time.Duration {
	return time.Duration(c.CoverageIntervalSeconds) * time.Second
}

// ResolvePath expands a leading ~ and makes the path absolute.
func ResolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

// ParseDevices parses a comma-separated list of non-negative device indices.
func ParseDevices(s string) ([]int, error) {
	var devices []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid device index %q", part)
		}
		devices = append(devices, n)
	}
	return devices, nil
}
