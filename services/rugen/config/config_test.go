// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) Getenv {
	return func(k string) string { return m[k] }
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Retry.ParamAttempts)
	assert.Equal(t, 1, cfg.Retry.TestGenAttempts)
	assert.Equal(t, 5, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Oracle.CallTimeout)
	assert.Equal(t, 2048, cfg.Oracle.MaxResponseTokens)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, "reverse", cfg.CallOrder)
}

func TestApplyEnvFrom_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnvFrom(&cfg, envMap(map[string]string{
		"RUG_TEST_GEN_RETRY_COUNT": "2",
		"RUG_PARAM_RETRY_COUNT":    "5",
		"RUG_API_CALL_TIMEOUT":     "30",
		"RUG_GPT_THREADS":          "8",
		"RUG_MODEL_NAME":           "gpt-4o",
		"RUG_DEBUG":                "yes",
		"RUG_RUST_TARGET":          "x86_64-unknown-linux-gnu",
		"RUG_API_RPS":              "1.5",
		"OPENAI_API_KEY":           "sk-test",
	}))

	assert.Equal(t, 2, cfg.Retry.TestGenAttempts)
	assert.Equal(t, 5, cfg.Retry.ParamAttempts)
	assert.Equal(t, 30*time.Second, cfg.Oracle.CallTimeout)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "gpt-4o", cfg.Oracle.Model)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "x86_64-unknown-linux-gnu", cfg.Build.Target)
	assert.InDelta(t, 1.5, cfg.Oracle.RequestsPerSecond, 1e-9)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
}

func TestApplyEnvFrom_InvalidIntegerKeepsDefault(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnvFrom(&cfg, envMap(map[string]string{
		"RUG_PARAM_RETRY_COUNT": "three",
		"RUG_API_MAX_ATTEMPTS":  " ",
	}))

	assert.Equal(t, 3, cfg.Retry.ParamAttempts)
	assert.Equal(t, 5, cfg.Oracle.MaxAttempts)
}

func TestApplyEnvFrom_OllamaBackend(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnvFrom(&cfg, envMap(map[string]string{
		"RUG_ORACLE_BACKEND": "ollama",
		"RUG_MODEL_NAME":     "qwen2.5-coder",
	}))
	assert.Equal(t, "http://localhost:11434", cfg.Oracle.BaseURL)

	cfg = DefaultConfig()
	ApplyEnvFrom(&cfg, envMap(map[string]string{
		"RUG_ORACLE_BACKEND": "ollama",
		"OLLAMA_BASE_URL":    "http://gpu:11434",
	}))
	assert.Equal(t, "http://gpu:11434", cfg.Oracle.BaseURL)
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", " Yes "} {
		assert.True(t, Truthy(v), v)
	}
	for _, v := range []string{"0", "false", "no", "", "on"} {
		assert.False(t, Truthy(v), v)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero param attempts", func(c *Config) { c.Retry.ParamAttempts = 0 }},
		{"unknown backend", func(c *Config) { c.Oracle.Backend = "bard" }},
		{"unknown order", func(c *Config) { c.CallOrder = "random" }},
		{"backoff cap below base", func(c *Config) { c.Oracle.BackoffMax = time.Second }},
		{"bucket without credentials", func(c *Config) { c.Artifacts.Bucket = "runs" }},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rugen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
call_order: forward
oracle:
  model: local-coder
  max_attempts: 7
retry:
  param_attempts: 4
build:
  target: aarch64-apple-darwin
`), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFile(&cfg, path))

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "forward", cfg.CallOrder)
	assert.Equal(t, "local-coder", cfg.Oracle.Model)
	assert.Equal(t, 7, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 4, cfg.Retry.ParamAttempts)
	assert.Equal(t, "aarch64-apple-darwin", cfg.Build.Target)
	// untouched keys keep their defaults
	assert.Equal(t, 1, cfg.Retry.TestGenAttempts)
	assert.Equal(t, "cargo test{target} -- --list", cfg.Build.CompileCommand)
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, LoadFile(&cfg, filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1, 2"), 0o644))

	cfg := DefaultConfig()
	assert.Error(t, LoadFile(&cfg, path))
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("call_order: forward\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "forward", cfg.CallOrder)
}

func TestLoad_NoDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "reverse", cfg.CallOrder)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
