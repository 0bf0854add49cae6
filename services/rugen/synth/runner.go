// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth drives unit-test synthesis for whole crates.
//
// A crate run loads the analysis catalog and execution log, then walks
// every eligible target function: its parameters are resolved in
// parallel, a test is synthesized per call expression until one compiles,
// and the winner is committed to the crate's source. The run always ends
// with a summary, an attempt log and a patch of everything committed.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/catalog"
	"github.com/AleutianAI/rugen/services/rugen/config"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/resolve"
	"github.com/AleutianAI/rugen/services/rugen/sandbox"
)

// logCommandOutput caps the captured execution log.
const logCommandOutput = 256 << 20

// Uploader copies a run's artifacts somewhere durable.
type Uploader interface {
	UploadFiles(ctx context.Context, prefix string, files []string) ([]string, error)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Config config.Config
	Oracle resolve.Oracle

	// Builder runs probes. Nil builds a sandbox.ShellBuilder from
	// Config.Build.
	Builder sandbox.Builder

	// Uploader is optional.
	Uploader Uploader

	// RunsDir, when set, makes every crate run on a fresh copy under it
	// and leaves the source directory untouched.
	RunsDir string

	// OnStart is called with each crate's recorder before its first
	// target. Optional.
	OnStart func(crate string, rec *observe.Recorder)

	Logger *slog.Logger
	Now    func() time.Time
}

// Report is the outcome of one crate run.
type Report struct {
	Crate string
	Dir   string
	RunID string
	Stats observe.Snapshot

	// States maps each attempted function to its final state.
	States map[string]State

	// Artifacts are the files written to Dir.
	Artifacts []string

	// Uploaded are the remote names, when an Uploader is set.
	Uploaded []string

	Duration time.Duration
}

// Runner runs synthesis over crates, one at a time.
type Runner struct {
	cfg      config.Config
	oracle   resolve.Oracle
	builder  sandbox.Builder
	uploader Uploader
	runsDir  string
	onStart  func(string, *observe.Recorder)
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		cfg:      opts.Config,
		oracle:   opts.Oracle,
		builder:  opts.Builder,
		uploader: opts.Uploader,
		runsDir:  opts.RunsDir,
		onStart:  opts.OnStart,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunCrate synthesizes tests for the crate at dir.
//
// # Description
//
// The crate name is the base name of dir. Missing analysis artifacts
// are produced with the configured analysis commands. Targets are
// processed sequentially; a target that fails for any reason is marked
// failed and the run continues. The summary, attempt log, statistics and
// commit patch are written to the crate directory whatever happens after
// the catalog loads.
//
// # Outputs
//
//   - Report: Valid whenever the catalog loaded.
//   - error: ErrNoCrate, ErrAnalysisFailed, catalog.ErrMalformed,
//     catalog.ErrNotFound, cancellation or artifact write failures.
func (r *Runner) RunCrate(ctx context.Context, dir string) (Report, error) {
	start := r.now()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Report{}, fmt.Errorf("%w: %s", ErrNoCrate, dir)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return Report{}, fmt.Errorf("resolve crate dir: %w", err)
	}
	crate := filepath.Base(dir)
	if r.runsDir != "" {
		if dir, err = r.copyRun(dir, crate); err != nil {
			return Report{}, err
		}
	}

	runID := uuid.NewString()
	logger := r.logger.With("crate", crate, "run_id", runID)

	ctx, span := tracer.Start(ctx, "Runner.RunCrate",
		trace.WithAttributes(
			attribute.String("synth.crate", crate),
			attribute.String("synth.run_id", runID),
		),
	)
	defer span.End()

	targetFlag := sandbox.TargetFlag(ctx, r.cfg.Build.Target, r.cfg.Build.AutoTarget)
	if err := r.ensureArtifacts(ctx, dir, crate, targetFlag, logger); err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	cat, occs, err := catalog.LoadCrate(dir, crate)
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("load %s: %w", crate, err)
	}

	existingMax, err := sandbox.ScanModuleIDs(dir)
	if err != nil {
		logger.Warn("scanning existing test modules failed", "error", err)
		existingMax = -1
	}
	if existingMax >= 0 {
		logger.Info("existing test modules found", "max_id", existingMax)
	}

	var sinks []observe.Sink
	if r.cfg.Journal.Dir != "" {
		jcfg := observe.DefaultJournalConfig(r.cfg.Journal.Dir, runID)
		jcfg.Logger = logger
		journal, jerr := observe.OpenJournal(jcfg)
		if jerr != nil {
			logger.Warn("attempt journal disabled", "error", jerr)
		} else {
			defer journal.Close()
			sinks = append(sinks, journal)
		}
	}

	rec := observe.NewRecorder(logger, sinks...)
	rc := NewRunContext(runID, crate, existingMax, rec)
	if r.onStart != nil {
		r.onStart(crate, rec)
	}

	builder := r.builder
	if builder == nil {
		builder = &sandbox.ShellBuilder{
			CompileCommand: r.cfg.Build.CompileCommand,
			VerifyCommand:  r.cfg.Build.VerifyCommand,
			TargetFlag:     targetFlag,
			Timeout:        r.cfg.Build.CommandTimeout,
			Logger:         logger,
		}
	}
	sb := sandbox.New(dir, crate, builder, logger)

	res := resolve.New(resolve.Options{
		Catalog:  cat,
		Crate:    crate,
		Oracle:   r.oracle,
		Memo:     rc.Memo,
		Vars:     rc.Vars,
		Recorder: rec,
		Attempts: r.cfg.Retry.ParamAttempts,
		Logger:   logger,
	})
	orch := NewOrchestrator(cat, res, r.cfg.Workers, logger)
	asm := NewAssembler(AssemblerOptions{
		Catalog:  cat,
		Crate:    crate,
		Oracle:   r.oracle,
		Recorder: rec,
		Attempts: r.cfg.Retry.TestGenAttempts,
		Order:    ParseOrder(r.cfg.CallOrder),
		Logger:   logger,
	})

	states := make(map[string]State)
	runErr := r.runTargets(ctx, rc, cat, occs, sb, orch, asm, states, logger)

	artifacts, werr := rec.WriteArtifacts(dir)
	report := Report{
		Crate:     crate,
		Dir:       dir,
		RunID:     runID,
		Stats:     rec.Stats(),
		States:    states,
		Artifacts: artifacts,
	}

	if r.uploader != nil && len(artifacts) > 0 {
		prefix := path.Join(r.cfg.Artifacts.Prefix, crate, runID)
		uploaded, uerr := r.uploader.UploadFiles(ctx, prefix, artifacts)
		if uerr != nil {
			logger.Warn("artifact upload failed", "error", uerr)
		}
		report.Uploaded = uploaded
	}

	report.Duration = r.now().Sub(start)
	recordCrate(ctx, crate, report.Duration.Seconds())
	logger.Info("crate finished",
		"targets", report.Stats.TotalTargets,
		"succeeded", report.Stats.TargetsSucceeded,
		"failed", report.Stats.TargetsFailed,
		"skipped", report.Stats.TargetsSkipped,
		"commits", rec.Commits(),
		"memo_hits", res.Memo().Hits(),
		"memo_entries", res.Memo().Len(),
		"duration", report.Duration,
	)
	return report, errors.Join(runErr, werr)
}

func (r *Runner) runTargets(ctx context.Context, rc *RunContext, cat *catalog.Catalog, occs []catalog.Occurrence,
	sb *sandbox.Sandbox, orch *Orchestrator, asm *Assembler, states map[string]State, logger *slog.Logger) error {
	for _, occ := range occs {
		rc.Recorder.Inc(observe.TotalTargets)
		if reason := cat.SkipReason(occ); reason != "" {
			rc.Recorder.Inc(observe.TargetsSkipped)
			logger.Debug("target skipped", "function", occ.Function, "file", occ.File, "reason", reason)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fn := NewFunction(occ.Function, occ.File, logger)
		err := r.runTarget(ctx, rc, occ, sb, orch, asm, fn)
		states[occ.Function] = fn.State
		recordFunction(ctx, fn.State)
		if fn.State == StateSuccess {
			rc.Recorder.Inc(observe.TargetsSucceeded)
			logger.Info("unit test committed", "function", occ.Function, "tries", fn.Tries)
		} else {
			rc.Recorder.Inc(observe.TargetsFailed)
			logger.Info("unit test not generated", "function", occ.Function, "tries", fn.Tries)
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// runTarget leaves fn in a terminal state. Errors are logged here and only
// returned so the caller can tell cancellation apart.
func (r *Runner) runTarget(ctx context.Context, rc *RunContext, occ catalog.Occurrence,
	sb *sandbox.Sandbox, orch *Orchestrator, asm *Assembler, fn *Function) error {
	rc.Recorder.BeginFunction(occ.Function)
	moduleID := rc.Modules.Next()
	ws := sb.Workspace(occ.File)

	err := fn.transition(StateResolving)
	var plan Plan
	if err == nil {
		plan, err = orch.ResolveParameters(ctx, occ, ws)
	}
	if err == nil {
		err = asm.Synthesize(ctx, fn, occ, plan, ws, moduleID)
	}
	if err != nil {
		fn.logger.Error("target failed", "function", occ.Function, "file", occ.File, "error", err)
		if !fn.State.IsTerminal() {
			fn.State = StateFailed
		}
	}
	return err
}

// ensureArtifacts produces <crate>.json and <crate>.out.txt when missing
// and a command for them is configured.
func (r *Runner) ensureArtifacts(ctx context.Context, dir, crate, targetFlag string, logger *slog.Logger) error {
	catalogPath := filepath.Join(dir, crate+".json")
	if !exists(catalogPath) && r.cfg.Build.AnalysisCommand != "" {
		logger.Info("running analysis", "output", catalogPath)
		if _, err := r.runAnalysis(ctx, dir, r.cfg.Build.AnalysisCommand, targetFlag, 0); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(dir, "preprocess.json"), catalogPath); err != nil {
			return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
		}
	}

	logPath := filepath.Join(dir, crate+".out.txt")
	if !exists(logPath) && r.cfg.Build.LogCommand != "" {
		logger.Info("generating execution log", "output", logPath)
		out, err := r.runAnalysis(ctx, dir, r.cfg.Build.LogCommand, targetFlag, logCommandOutput)
		if err != nil {
			return err
		}
		if err := os.WriteFile(logPath, []byte(out), 0o644); err != nil {
			return fmt.Errorf("write execution log: %w", err)
		}
	}
	return nil
}

func (r *Runner) runAnalysis(ctx context.Context, dir, command, targetFlag string, maxOutput int) (string, error) {
	sh := &sandbox.ShellBuilder{
		CompileCommand: command,
		TargetFlag:     targetFlag,
		Timeout:        r.cfg.Build.CommandTimeout,
		MaxOutput:      maxOutput,
		Logger:         r.logger,
	}
	out, err := sh.Build(ctx, sandbox.Invocation{Dir: dir, Mode: sandbox.ModeCompile})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	if !out.ExitOK {
		return "", fmt.Errorf("%w: %q: %s", ErrAnalysisFailed, command, tail(out.Stderr, 2048))
	}
	return out.Stdout, nil
}

// copyRun copies the crate to <runsDir>/<crate>_<model>_<timestamp>.
// The crate keeps its name; only the directory changes.
func (r *Runner) copyRun(src, crate string) (string, error) {
	model := strings.NewReplacer("/", "-", ":", "-").Replace(r.cfg.Oracle.Model)
	name := fmt.Sprintf("%s_%s_%s", crate, model, r.now().Format("20060102_150405"))
	dst := filepath.Join(r.runsDir, name)
	if err := os.MkdirAll(r.runsDir, 0o755); err != nil {
		return "", fmt.Errorf("create runs dir: %w", err)
	}
	if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
		return "", fmt.Errorf("copy crate to %s: %w", dst, err)
	}
	r.logger.Info("running on copy", "source", src, "copy", dst)
	return dst, nil
}

// RunBatch runs every crate in dirs in order. A crate that fails is
// logged and skipped; only cancellation stops the batch.
func (r *Runner) RunBatch(ctx context.Context, dirs []string) ([]Report, error) {
	var reports []Report
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := r.RunCrate(ctx, dir)
		if err != nil {
			r.logger.Error("crate failed", "dir", dir, "error", err)
		}
		if rep.Crate != "" {
			reports = append(reports, rep)
		}
	}
	return reports, nil
}

// CrateDirs returns the child directories of parent that hold a
// Cargo.toml, sorted by name.
func CrateDirs(parent string) ([]string, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", parent, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(parent, e.Name())
		if exists(filepath.Join(dir, "Cargo.toml")) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !errors.Is(err, fs.ErrNotExist)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
