// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox owns the shared build workspace.
//
// Every probe appends code to a source file, runs the build tool and
// restores the file to its exact prior bytes. Commit appends without
// restoring. One mutex per Sandbox orders every probe and commit, across
// all files of the crate and all worker goroutines.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/rugen/pkg/logging"
)

// Result is the outcome of a probe. Output is the build tool's stdout on
// success and its stderr on failure.
type Result struct {
	OK       bool
	Output   string
	Duration time.Duration
}

// Committed describes code persisted by Commit.
type Committed struct {
	File string

	// Before is the file content before the commit.
	Before []byte

	// Block is the exact text appended.
	Block string
}

// Sandbox serializes all mutation of one crate directory.
type Sandbox struct {
	dir        string
	crateIdent string
	builder    Builder
	logger     *slog.Logger

	mu sync.Mutex
}

// New creates a Sandbox for the crate at dir. crate is the package name;
// `use <crate>::` in injected code is rewritten to `use crate::`.
func New(dir, crate string, builder Builder, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sandbox{
		dir:        dir,
		crateIdent: strings.ReplaceAll(crate, "-", "_"),
		builder:    builder,
		logger:     logger,
	}
}

// Workspace returns a view of one source file, relative to the crate dir.
// All workspaces of a Sandbox share its lock.
func (s *Sandbox) Workspace(file string) *Workspace {
	return &Workspace{sb: s, file: file}
}

// RewriteImports turns `use <crate>::` into `use crate::`.
func (s *Sandbox) RewriteImports(code string) string {
	return strings.ReplaceAll(code, "use "+s.crateIdent+"::", "use crate::")
}

// Workspace is a source file inside a Sandbox.
type Workspace struct {
	sb   *Sandbox
	file string
}

// File returns the path relative to the crate dir.
func (w *Workspace) File() string { return w.file }

func (w *Workspace) path() string {
	if filepath.IsAbs(w.file) {
		return w.file
	}
	return filepath.Join(w.sb.dir, w.file)
}

// Probe appends code, runs the build tool in mode and restores the file
// byte for byte, whatever happens. A failed build is Result{OK: false};
// errors are reserved for workspace I/O and build tool failures.
func (w *Workspace) Probe(ctx context.Context, code string, mode Mode, sel Selector) (res Result, err error) {
	ctx, span := startProbeSpan(ctx, w.file, mode)
	defer span.End()

	w.sb.mu.Lock()
	defer w.sb.mu.Unlock()

	path := w.path()
	before, perm, err := readFile(path)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if rerr := writeFileSync(path, before, perm); rerr != nil {
			w.sb.logger.Error("workspace rollback failed", "file", w.file, "error", rerr)
			err = errors.Join(err, rerr)
		}
	}()

	block := w.block(before, code)
	if err := writeFileSync(path, appendBlock(before, block), perm); err != nil {
		return Result{}, err
	}

	start := time.Now()
	out, berr := w.sb.builder.Build(ctx, Invocation{Dir: w.sb.dir, Mode: mode, Selector: sel})
	res.Duration = time.Since(start)
	if berr != nil {
		recordProbe(ctx, mode, "error", res.Duration)
		return res, fmt.Errorf("%w: %w", ErrBuildTool, berr)
	}

	res.OK = out.ExitOK
	if res.OK {
		res.Output = out.Stdout
	} else {
		res.Output = out.Stderr
	}
	recordProbe(ctx, mode, outcomeLabel(res.OK), res.Duration)
	setProbeSpanResult(span, res.OK)

	w.sb.logger.Debug("probe finished",
		"file", w.file,
		"mode", mode.String(),
		"ok", res.OK,
		"duration", res.Duration,
	)
	return res, nil
}

// Commit appends code and leaves it persisted. Call it only with code a
// previous probe accepted.
func (w *Workspace) Commit(ctx context.Context, code string) (Committed, error) {
	w.sb.mu.Lock()
	defer w.sb.mu.Unlock()

	path := w.path()
	before, perm, err := readFile(path)
	if err != nil {
		return Committed{}, err
	}
	block := w.block(before, code)
	if err := writeFileSync(path, appendBlock(before, block), perm); err != nil {
		// a partial write must not survive
		if rerr := writeFileSync(path, before, perm); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return Committed{}, err
	}
	recordCommit(ctx)
	w.sb.logger.Info("code committed", "file", w.file, "bytes", len(block))
	return Committed{File: w.file, Before: before, Block: block}, nil
}

// block is the text appended for code: the rewritten code, on its own
// line, newline terminated.
func (w *Workspace) block(before []byte, code string) string {
	var b strings.Builder
	if len(before) > 0 && !bytes.HasSuffix(before, []byte("\n")) {
		b.WriteString("\n")
	}
	b.WriteString(w.sb.RewriteImports(code))
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func appendBlock(before []byte, block string) []byte {
	out := make([]byte, 0, len(before)+len(block))
	out = append(out, before...)
	return append(out, block...)
}

func readFile(path string) ([]byte, os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	return data, info.Mode().Perm(), nil
}

// writeFileSync truncates and rewrites path and fsyncs it.
func writeFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkspaceIO, err)
	}
	return nil
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
