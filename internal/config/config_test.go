package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Target = "gcc"
	cfg.WorkDir = "/tmp/campaign"
	cfg.ModelName = "Qwen/Qwen2.5-Coder-7B-Instruct"
	cfg.TimeBudget = 3600
	cfg.Generator.Command = []string{"python3", "generate.py"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.CoverageIntervalSeconds != 3600 {
		t.Errorf("CoverageIntervalSeconds = %d, want 3600", cfg.CoverageIntervalSeconds)
	}
	if cfg.CompileTimeout != 60*time.Second {
		t.Errorf("CompileTimeout = %s, want 60s", cfg.CompileTimeout)
	}
	if cfg.CompileWorkers != 1 {
		t.Errorf("CompileWorkers = %d, want 1", cfg.CompileWorkers)
	}
	if cfg.Generator.Backend != "command" {
		t.Errorf("Generator.Backend = %q, want command", cfg.Generator.Backend)
	}
	if cfg.HarnessRoot != "target" {
		t.Errorf("HarnessRoot = %q, want target", cfg.HarnessRoot)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing target", func(c *Config) { c.Target = "" }, true},
		{"unknown target", func(c *Config) { c.Target = "rustc" }, true},
		{"unknown target lenient", func(c *Config) {
			c.Target = "rustc"
			c.LenientTarget = true
		}, false},
		{"missing work_dir", func(c *Config) { c.WorkDir = "" }, true},
		{"missing model_name", func(c *Config) { c.ModelName = "" }, true},
		{"time_budget 0", func(c *Config) { c.TimeBudget = 0 }, true},
		{"interval 0", func(c *Config) { c.CoverageIntervalSeconds = 0 }, true},
		{"temperature 3", func(c *Config) { c.Temperature = 3 }, true},
		{"batch_size 0", func(c *Config) { c.BatchSize = 0 }, true},
		{"workers 0", func(c *Config) { c.CompileWorkers = 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, true},
		{"bad backend", func(c *Config) { c.Generator.Backend = "hf" }, true},
		{"command backend without command", func(c *Config) { c.Generator.Command = nil }, true},
		{"gemini without key env", func(c *Config) { c.Generator.Backend = "gemini" }, true},
		{"gemini with key env", func(c *Config) {
			c.Generator.Backend = "gemini"
			c.Generator.APIKeyEnv = "GEMINI_API_KEY"
		}, false},
		{"openai bad url", func(c *Config) {
			c.Generator.Backend = "openai"
			c.Generator.BaseURL = "localhost:8000"
		}, true},
		{"openai default url", func(c *Config) { c.Generator.Backend = "openai" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
target: clang
work_dir: ./runs/clang-1
model_name: deepseek-coder
temperature: 0.8
max_length: 1024
batch_size: 4
time_budget: 7200
coverage_interval_seconds: 600
compile_timeout: 30s
generator:
  backend: openai
  base_url: http://127.0.0.1:9000/v1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Target != "clang" {
		t.Errorf("Target = %q, want clang", cfg.Target)
	}
	if !filepath.IsAbs(cfg.WorkDir) {
		t.Errorf("WorkDir = %q, want absolute path", cfg.WorkDir)
	}
	if cfg.TimeBudgetDuration() != 2*time.Hour {
		t.Errorf("TimeBudgetDuration = %s, want 2h", cfg.TimeBudgetDuration())
	}
	if cfg.CoverageInterval() != 10*time.Minute {
		t.Errorf("CoverageInterval = %s, want 10m", cfg.CoverageInterval())
	}
	if cfg.CompileTimeout != 30*time.Second {
		t.Errorf("CompileTimeout = %s, want 30s", cfg.CompileTimeout)
	}
	if cfg.CoverageTimeout != 10*time.Minute {
		t.Errorf("CoverageTimeout = %s, want default 10m", cfg.CoverageTimeout)
	}
	if cfg.Generator.BaseURL != "http://127.0.0.1:9000/v1" {
		t.Errorf("Generator.BaseURL = %q", cfg.Generator.BaseURL)
	}

	tg, err := cfg.ResolveTarget()
	if err != nil || tg.Extension != ".c" {
		t.Errorf("ResolveTarget = (%+v, %v)", tg, err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestResolvePath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ResolvePath("~/runs/a")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "runs", "a"); got != want {
		t.Errorf("ResolvePath = %q, want %q", got, want)
	}
}

func TestParseDevices(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"0", []int{0}, false},
		{"0,1,2,3", []int{0, 1, 2, 3}, false},
		{" 1 , 3 ", []int{1, 3}, false},
		{"", nil, true},
		{"a", nil, true},
		{"0,-1", nil, true},
		{"0,,1", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevices(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDevices(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDevices(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveTarget_LenientKeepsHarnessDir(t *testing.T) {
	cfg := validConfig()
	cfg.Target = "rustc"
	cfg.LenientTarget = true

	tg, err := cfg.ResolveTarget()
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if tg.ID != "rustc" || tg.Extension != ".java" || tg.Language != "java" {
		t.Errorf("ResolveTarget = %+v, want rustc with java extension and language", tg)
	}
	if got, want := tg.CompileScript("/h"), filepath.Join("/h", "rustc", "compiler.sh"); got != want {
		t.Errorf("CompileScript = %q, want %q", got, want)
	}
}
