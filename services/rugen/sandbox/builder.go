// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Mode selects how deep a probe goes.
type Mode int

const (
	// ModeCompile only compiles the crate with the injected code.
	ModeCompile Mode = iota

	// ModeVerify compiles and executes one injected instantiation,
	// selected by Selector.
	ModeVerify
)

// String returns "compile" or "verify".
func (m Mode) String() string {
	if m == ModeVerify {
		return "verify"
	}
	return "compile"
}

// Selector names the injected module and variable a verify run executes.
type Selector struct {
	Module   string
	Variable string
}

// Invocation is one build-tool run.
type Invocation struct {
	Dir      string
	Mode     Mode
	Selector Selector
}

// Output is what the build tool produced. ExitOK is true iff the process
// exited with status zero.
type Output struct {
	ExitOK bool
	Stdout string
	Stderr string
}

// Builder runs the external build tool. An error means the tool could
// not be run at all; a failed build is Output{ExitOK: false}.
type Builder interface {
	Build(ctx context.Context, inv Invocation) (Output, error)
}

// defaultMaxOutput caps captured output per stream.
const defaultMaxOutput = 1 << 20

// ShellBuilder runs configured commands through `sh -c` in the workspace.
//
// Thread Safety: Safe for concurrent use. The sandbox lock serializes
// calls anyway.
type ShellBuilder struct {
	// CompileCommand and VerifyCommand may contain {target}.
	CompileCommand string
	VerifyCommand  string

	// TargetFlag replaces {target}: "" or " --target <triple>".
	TargetFlag string

	// Timeout bounds one run. Zero means no bound.
	Timeout time.Duration

	// MaxOutput caps captured bytes per stream. Zero uses 1 MiB.
	MaxOutput int

	Logger *slog.Logger
}

// Build implements Builder.
func (b *ShellBuilder) Build(ctx context.Context, inv Invocation) (Output, error) {
	command := b.CompileCommand
	if inv.Mode == ModeVerify {
		command = b.VerifyCommand
	}
	command = ExpandTarget(command, b.TargetFlag)

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = inv.Dir
	// sh may leave children holding the output pipes after a kill
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = os.Environ()
	if inv.Mode == ModeVerify {
		cmd.Env = append(cmd.Env,
			"RUG_VERIFY=1",
			"MOD="+inv.Selector.Module,
			"VAR="+inv.Selector.Variable,
		)
	}

	limit := b.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: limit}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: limit}

	if b.Logger != nil {
		b.Logger.Debug("running build tool",
			slog.String("command", command),
			slog.String("dir", inv.Dir),
			slog.String("mode", inv.Mode.String()),
			slog.String("module", inv.Selector.Module),
			slog.String("variable", inv.Selector.Variable),
		)
	}

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		out.ExitOK = true
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() == context.DeadlineExceeded {
			out.Stderr += fmt.Sprintf("\nbuild timed out after %s", b.Timeout)
		}
		return out, nil
	}
	return out, fmt.Errorf("run %q: %w", command, err)
}

// ExpandTarget substitutes {target} in command.
func ExpandTarget(command, targetFlag string) string {
	return strings.ReplaceAll(command, "{target}", targetFlag)
}

// TargetFlag returns the --target flag for build commands: the explicit
// triple when set, else the host triple from `rustc -Vv` when auto is
// true, else "".
func TargetFlag(ctx context.Context, explicit string, auto bool) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return " --target " + t
	}
	if !auto {
		return ""
	}
	out, err := exec.CommandContext(ctx, "rustc", "-Vv").Output()
	if err != nil {
		return ""
	}
	if host := parseHost(string(out)); host != "" {
		return " --target " + host
	}
	return ""
}

func parseHost(rustcVersion string) string {
	sc := bufio.NewScanner(strings.NewReader(rustcVersion))
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), "host:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// limitedWriter drops bytes past limit but reports them written so the
// child process never blocks.
type limitedWriter struct {
	w       *bytes.Buffer
	limit   int
	written int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if remaining := l.limit - l.written; remaining > 0 {
		chunk := p
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		n, _ := l.w.Write(chunk)
		l.written += n
	}
	return len(p), nil
}
