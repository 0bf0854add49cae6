// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the rugen run configuration.
//
// Sources, lowest to highest precedence: DefaultConfig, an optional YAML
// file, RUG_* environment variables, then CLI flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Retry     RetryConfig     `yaml:"retry"`
	Build     BuildConfig     `yaml:"build"`
	Workers   int             `yaml:"workers" validate:"gte=1,lte=64"`
	Debug     bool            `yaml:"debug"`
	LogDir    string          `yaml:"log_dir"`
	Journal   JournalConfig   `yaml:"journal"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// MetricsAddr enables the status/metrics HTTP surface when non-empty.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	// CallOrder is the call-expression try order: "reverse" (most recently
	// discovered first) or "forward".
	CallOrder string `yaml:"call_order" validate:"oneof=reverse forward"`
}

// OracleConfig configures the code-generation oracle.
type OracleConfig struct {
	// Backend is "openai" or "ollama".
	Backend string `yaml:"backend" validate:"oneof=openai ollama"`

	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKey is read from OPENAI_API_KEY and never written to YAML.
	APIKey string `yaml:"-"`

	MaxResponseTokens int           `yaml:"max_response_tokens" validate:"gte=1"`
	CallTimeout       time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gte=1"`
	BackoffBase       time.Duration `yaml:"backoff_base" validate:"gte=0"`
	BackoffMax        time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`

	// RequestsPerSecond limits oracle requests. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// RetryConfig holds the compiler-feedback budgets.
type RetryConfig struct {
	// ParamAttempts is the compile-verify budget per parameter resolution.
	ParamAttempts int `yaml:"param_attempts" validate:"gte=1"`

	// TestGenAttempts is the synthesis budget per call expression.
	TestGenAttempts int `yaml:"test_gen_attempts" validate:"gte=1"`
}

// BuildConfig configures the external build tool.
type BuildConfig struct {
	// Target is an explicit target triple.
	Target string `yaml:"target"`

	// AutoTarget detects the host triple with `rustc -Vv` when Target is empty.
	AutoTarget bool `yaml:"auto_target"`

	// CompileCommand probes compile-only. {target} expands to the target flag.
	CompileCommand string `yaml:"compile_command" validate:"required"`

	// VerifyCommand compiles and executes an injected instantiation.
	VerifyCommand string `yaml:"verify_command" validate:"required"`

	// AnalysisCommand produces preprocess.json when the catalog is missing.
	AnalysisCommand string `yaml:"analysis_command"`

	// LogCommand produces the execution log on stdout when it is missing.
	LogCommand string `yaml:"log_command"`

	// CommandTimeout bounds a single build invocation. Zero means no bound.
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gte=0"`
}

// JournalConfig enables the durable attempt journal.
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

// ArtifactsConfig enables upload of run artifacts to GCS.
type ArtifactsConfig struct {
	Bucket      string `yaml:"bucket"`
	Project     string `yaml:"project"`
	Credentials string `yaml:"credentials" validate:"required_with=Bucket"`
	Prefix      string `yaml:"prefix"`
}

// TelemetryConfig selects otel exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Oracle: OracleConfig{
			Backend:           "openai",
			Model:             "gpt-4o-mini",
			BaseURL:           "https://api.openai.com/v1",
			MaxResponseTokens: 2048,
			CallTimeout:       60 * time.Second,
			MaxAttempts:       5,
			BackoffBase:       2 * time.Second,
			BackoffMax:        20 * time.Second,
		},
		Retry: RetryConfig{
			ParamAttempts:   3,
			TestGenAttempts: 1,
		},
		Build: BuildConfig{
			CompileCommand:  "cargo test{target} -- --list",
			VerifyCommand:   "cargo clean && cargorunner rudra{target}",
			AnalysisCommand: "cargo clean && CHAT_UNIT=1 cargorunner rudra{target}",
			LogCommand:      "cargo clean && UNIT_GEN=s1 cargorunner rudra{target}",
		},
		Workers:   4,
		CallOrder: "reverse",
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// LoadFile overlays a YAML file on cfg. A missing file is not an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Getenv matches os.Getenv. Tests replace it through ApplyEnvFrom.
type Getenv func(string) string

// ApplyEnv overlays RUG_* and provider variables from the process environment.
func ApplyEnv(cfg *Config) {
	ApplyEnvFrom(cfg, os.Getenv)
}

// ApplyEnvFrom overlays environment variables read through getenv.
//
// Invalid numbers leave the current value in place.
func ApplyEnvFrom(cfg *Config, getenv Getenv) {
	setInt := func(name string, dst *int) {
		if v, ok := envInt(getenv, name); ok {
			*dst = v
		}
	}
	setSeconds := func(name string, dst *time.Duration) {
		if v, ok := envInt(getenv, name); ok {
			*dst = time.Duration(v) * time.Second
		}
	}
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	setInt("RUG_TEST_GEN_RETRY_COUNT", &cfg.Retry.TestGenAttempts)
	setInt("RUG_PARAM_RETRY_COUNT", &cfg.Retry.ParamAttempts)
	setInt("RUG_API_MAX_ATTEMPTS", &cfg.Oracle.MaxAttempts)
	setSeconds("RUG_API_CALL_TIMEOUT", &cfg.Oracle.CallTimeout)
	setInt("RUG_API_MAX_RESPONSE_TOKENS", &cfg.Oracle.MaxResponseTokens)
	setSeconds("RUG_API_BACKOFF_BASE", &cfg.Oracle.BackoffBase)
	setSeconds("RUG_API_BACKOFF_MAX", &cfg.Oracle.BackoffMax)
	setInt("RUG_GPT_THREADS", &cfg.Workers)
	setString("RUG_MODEL_NAME", &cfg.Oracle.Model)
	setString("RUG_ORACLE_BACKEND", &cfg.Oracle.Backend)
	setString("OPENAI_API_KEY", &cfg.Oracle.APIKey)
	setString("RUG_RUST_TARGET", &cfg.Build.Target)
	setString("RUG_JOURNAL_DIR", &cfg.Journal.Dir)
	setString("RUG_GCS_BUCKET", &cfg.Artifacts.Bucket)
	setString("RUG_GCS_PROJECT", &cfg.Artifacts.Project)
	setString("RUG_GCS_CREDENTIALS", &cfg.Artifacts.Credentials)
	setString("RUG_METRICS_ADDR", &cfg.MetricsAddr)
	setString("RUG_LOG_DIR", &cfg.LogDir)
	setString("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter)
	setString("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	if cfg.Oracle.Backend == "ollama" {
		setString("OLLAMA_BASE_URL", &cfg.Oracle.BaseURL)
		if cfg.Oracle.BaseURL == DefaultConfig().Oracle.BaseURL {
			cfg.Oracle.BaseURL = "http://localhost:11434"
		}
	} else {
		setString("OPENAI_BASE_URL", &cfg.Oracle.BaseURL)
	}

	if v := strings.TrimSpace(getenv("RUG_API_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oracle.RequestsPerSecond = f
		}
	}
	if v := getenv("RUG_DEBUG"); v != "" {
		cfg.Debug = Truthy(v)
	}
	if v := getenv("RUG_AUTO_TARGET"); v != "" {
		cfg.Build.AutoTarget = Truthy(v)
	}
}

// Truthy reports whether v is one of 1, true, yes (case-insensitive).
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envInt(getenv Getenv, name string) (int, bool) {
	v := strings.TrimSpace(getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "rugen.yaml"

// Load builds a configuration from defaults, the YAML file and the
// environment, and validates it.
//
// An empty path reads DefaultFile when it exists. A non-empty path must
// exist.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultFile
	} else if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(&cfg, path); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
