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
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/catalog"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/oracle"
	"github.com/AleutianAI/rugen/services/rugen/resolve"
	"github.com/AleutianAI/rugen/services/rugen/sandbox"
)

// DefaultTestAttempts is the synthesis budget per call expression.
const DefaultTestAttempts = 1

// OrderPolicy is the order call expressions are tried in.
type OrderPolicy int

const (
	// OrderReverse tries the most recently discovered call first.
	OrderReverse OrderPolicy = iota

	// OrderForward tries calls in discovery order.
	OrderForward
)

// ParseOrder maps "reverse" and "forward" to a policy. Anything else is
// OrderReverse.
func ParseOrder(s string) OrderPolicy {
	if s == "forward" {
		return OrderForward
	}
	return OrderReverse
}

// Apply returns calls in policy order, without trait-dispatch casts.
func (p OrderPolicy) Apply(calls []string) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		if !isTraitCast(c) {
			out = append(out, c)
		}
	}
	if p == OrderReverse {
		slices.Reverse(out)
	}
	return out
}

// Workspace is the sandbox view synthesis probes and commits through.
type Workspace interface {
	resolve.Prober
	Commit(ctx context.Context, code string) (sandbox.Committed, error)
}

// TestRecorder receives synthesis counters, attempts and commits.
type TestRecorder interface {
	Inc(c observe.Counter)
	RecordTest(fn string, a observe.TestAttempt) observe.TestAttempt
	RecordCommit(file string, before []byte, block string)
}

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	Catalog  *catalog.Catalog
	Crate    string
	Oracle   resolve.Oracle
	Recorder TestRecorder

	// Attempts is the budget per call expression. Zero uses
	// DefaultTestAttempts.
	Attempts int
	Order    OrderPolicy
	Logger   *slog.Logger
}

// Assembler turns a resolved parameter plan into a committed unit test.
//
// Thread Safety: Safe for concurrent use on distinct functions.
type Assembler struct {
	cat      *catalog.Catalog
	crate    string
	oracle   resolve.Oracle
	rec      TestRecorder
	attempts int
	order    OrderPolicy
	logger   *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(opts AssemblerOptions) *Assembler {
	a := &Assembler{
		cat:      opts.Catalog,
		crate:    opts.Crate,
		oracle:   opts.Oracle,
		rec:      opts.Recorder,
		attempts: opts.Attempts,
		order:    opts.Order,
		logger:   opts.Logger,
	}
	if a.attempts <= 0 {
		a.attempts = DefaultTestAttempts
	}
	if a.logger == nil {
		a.logger = logging.Discard()
	}
	return a
}

// Synthesize tries the call expressions of occ until one yields a test
// that compiles, and commits it.
//
// # Description
//
// Every call expression gets one prompt and up to the attempt budget of
// oracle requests; each answer is renamed to module moduleID and probed
// compile-only. The first passing answer is committed and fn ends in
// StateSuccess. When every call is exhausted fn ends in StateFailed.
//
// # Inputs
//
//   - fn: Must be in StateResolving.
//   - moduleID: The module id reserved for this function.
//
// # Outputs
//
//   - error: Workspace I/O failures and cancellation. fn is left
//     non-terminal; the caller fails it.
func (a *Assembler) Synthesize(ctx context.Context, fn *Function, occ catalog.Occurrence, plan Plan, ws Workspace, moduleID int64) error {
	ctx, span := tracer.Start(ctx, "Assembler.Synthesize",
		trace.WithAttributes(
			attribute.String("synth.function", occ.Function),
			attribute.Int64("synth.module_id", moduleID),
		),
	)
	defer span.End()

	header := a.header(occ)
	footer := strings.Join(plan.Fragments, "") + a.supportDefinitions(plan.Support)

	samples := plan.Samples()
	var others []int
	for i := range occ.Slots {
		if !plan.HasSample[i] {
			others = append(others, i)
		}
	}
	traitUse := ""
	if t := a.cat.Targets[occ.Function].Trait; t != "" {
		traitUse = a.cat.FullPath(t)
	}

	for _, call := range a.order.Apply(occ.Calls) {
		prompt := header + stepsPrompt(samples, others, testSkeleton(traitUse, len(occ.Slots), call)) + footer

		ok, err := a.tryCall(ctx, fn, prompt, ws, moduleID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if ok {
			span.SetAttributes(attribute.Bool("synth.success", true))
			return fn.transition(StateSuccess)
		}
		a.logger.Info("call expression exhausted", "function", fn.Name, "call", call)
	}
	span.SetAttributes(attribute.Bool("synth.success", false))
	return fn.transition(StateFailed)
}

func (a *Assembler) tryCall(ctx context.Context, fn *Function, prompt string, ws Workspace, moduleID int64) (bool, error) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err := fn.transition(StateTrying); err != nil {
			return false, err
		}

		raw, err := a.oracle.Ask(ctx, SystemPrompt, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			a.rec.RecordTest(fn.Name, observe.TestAttempt{Prompt: prompt, CompilerOutput: err.Error()})
			a.logger.Warn("oracle gave no test", "function", fn.Name, "attempt", attempt, "error", err)
			if oracle.IsContextLength(err) {
				return false, nil
			}
			continue
		}

		code := normalizeModules(oracle.ExtractCode(raw), moduleID)
		a.rec.Inc(observe.TestGenAttempts)

		res, err := ws.Probe(ctx, code, sandbox.ModeCompile, sandbox.Selector{})
		if err != nil {
			a.rec.Inc(observe.TestGenFailures)
			a.rec.RecordTest(fn.Name, observe.TestAttempt{
				Prompt:         prompt,
				ResponseRaw:    raw,
				InjectedCode:   code,
				CompilerOutput: err.Error(),
			})
			return false, fmt.Errorf("probe test: %w", err)
		}
		a.rec.RecordTest(fn.Name, observe.TestAttempt{
			Prompt:         prompt,
			ResponseRaw:    raw,
			InjectedCode:   code,
			Success:        res.OK,
			CompilerOutput: res.Output,
		})
		a.logger.Info("test attempt",
			"function", fn.Name, "module", moduleID, "attempt", attempt, "ok", res.OK)

		if !res.OK {
			a.rec.Inc(observe.TestGenFailures)
			continue
		}

		committed, err := ws.Commit(ctx, code)
		if err != nil {
			return false, fmt.Errorf("commit test: %w", err)
		}
		a.rec.Inc(observe.TestGenSuccess)
		a.rec.RecordCommit(committed.File, committed.Before, committed.Block)
		return true, nil
	}
	return false, nil
}

func (a *Assembler) header(occ catalog.Occurrence) string {
	target := a.cat.Targets[occ.Function]
	source := a.cat.Sources[occ.Function].Snippet
	if source == "" {
		source = target.Snippet
	}
	return targetPrompt(target.Display, a.crate, occ.File, occ.Function, target.Trait, source)
}

// supportDefinitions renders each distinct supporting type the catalog
// has a definition for, sorted by name.
func (a *Assembler) supportDefinitions(support []string) string {
	types := slices.Clone(support)
	slices.Sort(types)
	types = slices.Compact(types)

	var b strings.Builder
	for _, ty := range types {
		code, file := a.cat.Definition(ty)
		if code == "" {
			continue
		}
		loc := ""
		if file != "" {
			loc = " in " + file
		}
		b.WriteString(resolve.StructInfo(a.cat.FullPath(ty), loc, code))
	}
	return b.String()
}
