// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/pkg/ux"
	"github.com/AleutianAI/rugen/services/rugen/config"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/synth"
)

// flags holds the command-line overrides shared by every subcommand.
type flags struct {
	configPath  string
	personality string
	model       string
	workers     int
	runsDir     string
	metricsAddr string
	debug       bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "rugen",
		Short: "Compiler-verified unit test synthesis for Rust crates",
		Long: `rugen reads a crate's analysis catalog and execution log, asks a code
oracle for parameter constructors and tests, and keeps only what the
compiler accepts.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if f.personality != "" {
				ux.SetLevel(ux.ParseLevel(f.personality))
			} else {
				ux.InitPersonality()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&f.personality, "personality", "", "output style: full, minimal or machine")
	pf.StringVar(&f.model, "model", "", "oracle model name (overrides RUG_MODEL_NAME)")
	pf.IntVar(&f.workers, "workers", 0, "parallel parameter resolutions per target")
	pf.StringVar(&f.runsDir, "runs-dir", "", "run on a timestamped copy of each crate under this directory")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /v1/stats on this address")
	pf.BoolVar(&f.debug, "debug", false, "debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "run <crate-dir>",
			Short: "Synthesize tests for one crate",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCrates(cmd, f, args)
			},
		},
		&cobra.Command{
			Use:   "batch <parent-dir>",
			Short: "Synthesize tests for every crate directly under a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dirs, err := synth.CrateDirs(args[0])
				if err != nil {
					return err
				}
				if len(dirs) == 0 {
					return fmt.Errorf("no crates under %s", args[0])
				}
				return runCrates(cmd, f, dirs)
			},
		},
		&cobra.Command{
			Use:   "report <crate-dir>",
			Short: "Re-render the run summary from a crate's saved log and statistics",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				md, err := renderReport(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), md)
				return err
			},
		},
	)
	return root
}

// loadConfig layers defaults, the YAML file, the environment and flags.
func loadConfig(f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if f.model != "" {
		cfg.Oracle.Model = f.model
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if f.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runCrates(cmd *cobra.Command, f *flags, dirs []string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "rugen",
		Quiet:   ux.Level() == ux.PersonalityMachine && !cfg.Debug,
	})
	defer log.Close()

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, f.runsDir, log.Slog())
	if err != nil {
		return err
	}
	defer app.Close()

	out := ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
	out.Title("rugen")
	out.Info(fmt.Sprintf("model %s, %d crate(s)", cfg.Oracle.Model, len(dirs)))

	spin := ux.NewSpinner(cmd.ErrOrStderr(), "synthesizing")
	if ux.IsTerminal(os.Stderr) {
		spin.Start()
	}
	reports, batchErr := app.runner.RunBatch(ctx, dirs)
	spin.Stop()
	app.tracker.Finish()

	rows := make([]ux.CrateRow, 0, len(dirs))
	seen := make(map[string]bool, len(reports))
	for _, rep := range reports {
		seen[rep.Crate] = true
		rows = append(rows, crateRow(rep))
	}
	for _, dir := range dirs {
		if name := filepath.Base(dir); !seen[name] {
			rows = append(rows, ux.CrateRow{Crate: name, Err: errors.New("not processed, see log")})
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), ux.RenderSummary(rows))

	for _, rep := range reports {
		for _, u := range rep.Uploaded {
			out.Info("uploaded " + u)
		}
	}
	if batchErr != nil {
		out.Warning("run interrupted: " + batchErr.Error())
		return batchErr
	}
	if len(reports) < len(dirs) {
		return fmt.Errorf("%d of %d crates failed", len(dirs)-len(reports), len(dirs))
	}
	out.Success("done")
	return nil
}

func crateRow(rep synth.Report) ux.CrateRow {
	s := rep.Stats
	row := ux.CrateRow{
		Crate:     rep.Crate,
		Targets:   s.TotalTargets,
		Succeeded: s.TargetsSucceeded,
		Failed:    s.TargetsFailed,
		Skipped:   s.TargetsSkipped,
		Duration:  rep.Duration,
	}
	if s.ParamAttempts > 0 {
		row.ParamRate = float64(s.ParamSuccess) / float64(s.ParamAttempts)
	}
	row.Commits = s.TestGenSuccess
	return row
}

// renderReport rebuilds the markdown summary from the files a run left in
// dir.
func renderReport(dir string) (string, error) {
	lf, err := os.Open(filepath.Join(dir, observe.LogFile))
	if err != nil {
		return "", err
	}
	defer lf.Close()
	fns, err := observe.ReadLog(lf)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", observe.LogFile, err)
	}

	sf, err := os.Open(filepath.Join(dir, observe.StatsFile))
	if err != nil {
		return "", err
	}
	defer sf.Close()
	snap, err := observe.ReadSnapshot(sf)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", observe.StatsFile, err)
	}
	return observe.RenderMarkdown(snap, fns), nil
}

// runContext is the command context, or Background for direct calls.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
