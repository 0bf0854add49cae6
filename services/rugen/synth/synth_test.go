// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/config"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/oracle"
	"github.com/AleutianAI/rugen/services/rugen/resolve"
	"github.com/AleutianAI/rugen/services/rugen/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testAnswer = "Here is the test:\n```rust\n#[cfg(test)]\nmod tests {\n    use super::*;\n    #[test]\n    fn test_rug() {\n        crate::f();\n    }\n}\n```\n"

const prepareAnswer = "```rust\n#[cfg(test)]\nmod tests_prepare {\n    #[test]\n    fn sample() {\n        let mut v1 = String::new();\n    }\n}\n```"

// routedOracle answers parameter and test prompts separately.
type routedOracle struct {
	mu          sync.Mutex
	paramErr    error
	testErr     error
	paramCalls  int
	testCalls   int
	testPrompts []string
}

func (o *routedOracle) Ask(ctx context.Context, system, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if system == resolve.SystemPrompt {
		o.paramCalls++
		if o.paramErr != nil {
			return "", o.paramErr
		}
		return prepareAnswer, nil
	}
	o.testCalls++
	o.testPrompts = append(o.testPrompts, prompt)
	if o.testErr != nil {
		return "", o.testErr
	}
	return testAnswer, nil
}

// verdictBuilder passes or fails every build of a mode.
type verdictBuilder struct {
	mu        sync.Mutex
	compileOK bool
	verifyOK  bool
	err       error
	compiles  int
	verifies  int
}

func (b *verdictBuilder) Build(ctx context.Context, inv sandbox.Invocation) (sandbox.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return sandbox.Output{}, b.err
	}
	if inv.Mode == sandbox.ModeVerify {
		b.verifies++
		return sandbox.Output{ExitOK: b.verifyOK, Stdout: "ok", Stderr: "verify failed"}, nil
	}
	b.compiles++
	return sandbox.Output{ExitOK: b.compileOK, Stdout: "ok", Stderr: "error[E0308]: mismatched types"}, nil
}

const baseLib = "pub fn f(s: String, t: T) {}\n"

const scenarioCatalog = `{
  "targets": {"crate::f": ["f", "pub fn f(s: String, t: T) {}", ""]},
  "dependencies": {"crate::f": {"T": []}},
  "srcs": {"crate::f": ["pub fn f(s: String, t: T) {}", "Span { file: \"src/lib.rs\" }"]}
}`

const scenarioLog = `-----
src/lib.rs crate::f
deps:{"crate::f":{"T":[]}}
candidates:{"crate::f":{"T":["RUG_ANY"]}}
+crate::f(p0, p1)
let p0 = ... // std::string::String
let p1 = ... // T
-----
`

func writeCrate(t *testing.T, parent, name, lib, catalogJSON, log string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \""+name+"\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte(lib), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(catalogJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".out.txt"), []byte(log), 0o644))
	return dir
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Build.AnalysisCommand = ""
	cfg.Build.LogCommand = ""
	return cfg
}

func newTestRunner(cfg config.Config, o resolve.Oracle, b sandbox.Builder) *Runner {
	return NewRunner(RunnerOptions{
		Config:  cfg,
		Oracle:  o,
		Builder: b,
		Logger:  logging.Discard(),
	})
}

func readLib(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "src", "lib.rs"))
	require.NoError(t, err)
	return string(data)
}

func TestRunCrate_HappyPath(t *testing.T) {
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, scenarioLog)
	o := &routedOracle{}
	b := &verdictBuilder{compileOK: true, verifyOK: true}

	rep, err := newTestRunner(testConfig(), o, b).RunCrate(context.Background(), dir)
	require.NoError(t, err)

	// one std prompt for String, none for the unconstrained T
	assert.Equal(t, 1, o.paramCalls)
	assert.Equal(t, 1, o.testCalls)
	assert.Equal(t, 1, b.verifies)
	assert.Equal(t, 1, b.compiles)

	prompt := o.testPrompts[0]
	assert.Contains(t, prompt, "For 1th argument, `std::string::String` can be used, please use following sample code")
	assert.Contains(t, prompt, "For 2th argument, `T` can be used, please use following description")
	assert.Contains(t, prompt, "we don't find explicit bounds")
	assert.Contains(t, prompt, "1. fill in the p0 variables")
	assert.Contains(t, prompt, "2. construct the variables p1 based on hints")
	assert.Contains(t, prompt, "crate::f(p0, p1)")

	lib := readLib(t, dir)
	assert.True(t, strings.HasPrefix(lib, baseLib))
	assert.Contains(t, lib, "mod tests_rug_0 {")
	assert.NotContains(t, lib, "mod tests {")
	assert.NotContains(t, lib, "tests_prepare")

	assert.Equal(t, StateSuccess, rep.States["crate::f"])
	assert.Equal(t, 1, rep.Stats.TotalTargets)
	assert.Equal(t, 1, rep.Stats.TargetsSucceeded)
	assert.Equal(t, 1, rep.Stats.ParamSuccess)
	assert.Equal(t, 1, rep.Stats.TestGenSuccess)

	for _, name := range []string{observe.SummaryFile, observe.LogFile, observe.StatsFile, observe.PatchFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	patch, err := os.ReadFile(filepath.Join(dir, observe.PatchFile))
	require.NoError(t, err)
	assert.Contains(t, string(patch), "+mod tests_rug_0 {")
}

func TestRunCrate_OracleOutage(t *testing.T) {
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, scenarioLog)
	o := &routedOracle{paramErr: oracle.ErrExhausted, testErr: oracle.ErrExhausted}
	b := &verdictBuilder{compileOK: true, verifyOK: true}

	rep, err := newTestRunner(testConfig(), o, b).RunCrate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, baseLib, readLib(t, dir))
	assert.Equal(t, StateFailed, rep.States["crate::f"])
	assert.Equal(t, 1, rep.Stats.TargetsFailed)
	assert.Zero(t, rep.Stats.TargetsSucceeded)
	assert.Zero(t, b.compiles+b.verifies)
	assert.NoFileExists(t, filepath.Join(dir, observe.PatchFile))
	assert.FileExists(t, filepath.Join(dir, observe.SummaryFile))
}

func TestRunCrate_RetryBound(t *testing.T) {
	log := `-----
src/lib.rs crate::f
deps:{}
candidates:{}
+crate::f(p0)
+crate::f::<u8>(p0)
+<crate::S as crate::Tr>::f(p0)
let p0 = ... // None+usize+
-----
`
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, log)
	o := &routedOracle{}
	b := &verdictBuilder{compileOK: false}
	cfg := testConfig()
	cfg.Retry.TestGenAttempts = 2

	rep, err := newTestRunner(cfg, o, b).RunCrate(context.Background(), dir)
	require.NoError(t, err)

	// two eligible calls, two attempts each; the cast is never tried
	assert.Equal(t, 4, o.testCalls)
	assert.Equal(t, 4, rep.Stats.TestGenAttempts)
	assert.Equal(t, 4, rep.Stats.TestGenFailures)
	assert.Equal(t, StateFailed, rep.States["crate::f"])
	assert.Equal(t, baseLib, readLib(t, dir))

	// most recently discovered call first
	require.Len(t, o.testPrompts, 4)
	assert.Contains(t, o.testPrompts[0], "crate::f::<u8>(p0)")
	assert.Contains(t, o.testPrompts[2], "        crate::f(p0)\n")
	for _, p := range o.testPrompts {
		assert.NotContains(t, p, "as crate::Tr")
	}
}

func TestRunCrate_ModuleIDsAboveExisting(t *testing.T) {
	catalogJSON := `{
  "targets": {"crate::f": ["f", "", ""], "crate::g": ["g", "", ""]},
  "srcs": {}
}`
	log := `-----
src/lib.rs crate::f
deps:{}
candidates:{}
+crate::f(p0)
let p0 = ... // None+usize+
-----
src/lib.rs crate::g
deps:{}
candidates:{}
+crate::g(p0)
let p0 = ... // None+u8+
-----
`
	lib := "pub fn f(x: usize) {}\npub fn g(x: u8) {}\n#[cfg(test)]\nmod tests_rug_7 {}\n"
	dir := writeCrate(t, t.TempDir(), "demo", lib, catalogJSON, log)
	o := &routedOracle{}
	b := &verdictBuilder{compileOK: true}

	rep, err := newTestRunner(testConfig(), o, b).RunCrate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stats.TargetsSucceeded)
	assert.Zero(t, o.paramCalls)

	got := readLib(t, dir)
	assert.Equal(t, 1, strings.Count(got, "mod tests_rug_8 {"))
	assert.Equal(t, 1, strings.Count(got, "mod tests_rug_9 {"))

	maxID, err := sandbox.ScanModuleIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, maxID)
}

func TestRunCrate_WorkspaceErrorFailsTargetOnly(t *testing.T) {
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, scenarioLog)
	o := &routedOracle{}
	b := &verdictBuilder{err: errors.New("sh: not found")}

	rep, err := newTestRunner(testConfig(), o, b).RunCrate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rep.States["crate::f"])
	assert.Equal(t, 1, rep.Stats.TargetsFailed)
	assert.Equal(t, baseLib, readLib(t, dir))
}

func TestRunCrate_SkipsIneligibleTargets(t *testing.T) {
	log := `-----
/home/user/.cargo/registry/dep.rs crate::f
deps:{}
candidates:{}
-----
src/lib.rs <crate::S as std::fmt::Display>::fmt
deps:{}
candidates:{}
-----
src/lib.rs crate::unknown
deps:{}
candidates:{}
-----
`
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, log)
	o := &routedOracle{}

	rep, err := newTestRunner(testConfig(), o, &verdictBuilder{}).RunCrate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Stats.TotalTargets)
	assert.Equal(t, 3, rep.Stats.TargetsSkipped)
	assert.Empty(t, rep.States)
	assert.Zero(t, o.paramCalls+o.testCalls)
}

func TestRunCrate_MalformedLog(t *testing.T) {
	log := "-----\nsrc/lib.rs crate::f\ncandidates:{}\n-----\n"
	dir := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, log)

	_, err := newTestRunner(testConfig(), &routedOracle{}, &verdictBuilder{}).RunCrate(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestRunCrate_MissingDir(t *testing.T) {
	_, err := newTestRunner(testConfig(), &routedOracle{}, &verdictBuilder{}).
		RunCrate(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNoCrate)
}

func TestRunCrate_RunsOnCopy(t *testing.T) {
	src := writeCrate(t, t.TempDir(), "demo", baseLib, scenarioCatalog, scenarioLog)
	runs := t.TempDir()
	cfg := testConfig()
	cfg.Oracle.Model = "org/model"

	r := NewRunner(RunnerOptions{
		Config:  cfg,
		Oracle:  &routedOracle{},
		Builder: &verdictBuilder{compileOK: true, verifyOK: true},
		RunsDir: runs,
		Logger:  logging.Discard(),
		Now:     func() time.Time { return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC) },
	})
	rep, err := r.RunCrate(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(runs, "demo_org-model_20250301_123000"), rep.Dir)
	assert.Equal(t, "demo", rep.Crate)
	assert.Equal(t, baseLib, readLib(t, src))
	assert.NotEqual(t, baseLib, readLib(t, rep.Dir))
}

func TestRunBatch_SkipsFailingCrate(t *testing.T) {
	parent := t.TempDir()
	good := writeCrate(t, parent, "demo", baseLib, scenarioCatalog, scenarioLog)
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "notacrate"), 0o755))

	dirs, err := CrateDirs(parent)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, dirs)

	r := newTestRunner(testConfig(), &routedOracle{}, &verdictBuilder{compileOK: true, verifyOK: true})
	reports, err := r.RunBatch(context.Background(), append([]string{filepath.Join(parent, "missing")}, dirs...))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "demo", reports[0].Crate)
}

func TestRunBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRunner(testConfig(), &routedOracle{}, &verdictBuilder{})
	_, err := r.RunBatch(ctx, []string{t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}
