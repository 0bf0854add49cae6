// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve turns generic parameters into verified instantiation
// code.
//
// A type variable is resolved by walking its candidate types. Standard
// library types, self-contained types and types with nested generics each
// get their own oracle prompt; every oracle answer is compiled and run in
// the sandbox before it is accepted. Candidates without a usable answer
// degrade to a textual hint. Outcomes are memoized per type for the run.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/catalog"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/oracle"
	"github.com/AleutianAI/rugen/services/rugen/sandbox"
)

// DefaultAttempts is the compile-verify budget per oracle-backed
// resolution.
const DefaultAttempts = 3

// maxStdCandidates caps standard library candidates tried per type
// variable.
const maxStdCandidates = 2

// excluded candidates are never instantiated.
var excluded = map[string]bool{
	"std::io::Stdin": true,
}

// Oracle answers one prompt.
type Oracle interface {
	Ask(ctx context.Context, system, prompt string) (string, error)
}

// Prober compiles and runs appended code in the sandbox.
type Prober interface {
	Probe(ctx context.Context, code string, mode sandbox.Mode, sel sandbox.Selector) (sandbox.Result, error)
}

// Recorder receives counters and attempt records.
type Recorder interface {
	Inc(c observe.Counter)
	RecordParam(fn string, a observe.ParamAttempt) observe.ParamAttempt
}

// Scope is what one target function contributes to its resolutions.
type Scope struct {
	// Function names the log bucket attempts are recorded under.
	Function string

	// File is the source file named in prompts, relative to the crate.
	File string

	Workspace Prober

	// Deps and Candidates are the occurrence's dependency closure.
	Deps       catalog.Bounds
	Candidates catalog.Bounds
}

// Request is one type variable to resolve.
type Request struct {
	// Parent is the owner of TypeVar: the target function or a type.
	Parent string

	// DefPath is how TypeVar is referred to in prompts.
	DefPath string

	TypeVar    string
	Bounds     []string
	Candidates []string
}

// Options configures a Resolver.
type Options struct {
	Catalog  *catalog.Catalog
	Crate    string
	Oracle   Oracle
	Memo     *Memo
	Vars     *VarCounter
	Recorder Recorder

	// Attempts is the compile-verify budget per oracle-backed resolution.
	// Zero uses DefaultAttempts.
	Attempts int

	Logger *slog.Logger
}

// Resolver resolves type variables for one crate.
//
// Thread Safety: Safe for concurrent use. The memo, the variable counter
// and the recorder are shared run state.
type Resolver struct {
	cat      *catalog.Catalog
	crate    string
	oracle   Oracle
	memo     *Memo
	vars     *VarCounter
	rec      Recorder
	attempts int
	logger   *slog.Logger
}

// New creates a Resolver. Catalog, Oracle and Recorder are required.
func New(opts Options) *Resolver {
	r := &Resolver{
		cat:      opts.Catalog,
		crate:    opts.Crate,
		oracle:   opts.Oracle,
		memo:     opts.Memo,
		vars:     opts.Vars,
		rec:      opts.Recorder,
		attempts: opts.Attempts,
		logger:   opts.Logger,
	}
	if r.memo == nil {
		r.memo = NewMemo()
	}
	if r.vars == nil {
		r.vars = &VarCounter{}
	}
	if r.attempts <= 0 {
		r.attempts = DefaultAttempts
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// Memo returns the resolver's memo table.
func (r *Resolver) Memo() *Memo { return r.memo }

// Resolve resolves one type variable through its candidates.
//
// Every direct candidate is attempted and logged; the first resolved one
// is returned. With no direct candidate an already-instantiated generic
// form is followed into its nested parameter. With neither, the outcome
// asks for a hand-written implementation of the bounds.
//
// Errors are reserved for sandbox I/O failures and cancellation; nothing
// is memoized for a resolution that errored.
func (r *Resolver) Resolve(ctx context.Context, sc *Scope, req Request, visited Visited) (Resolution, error) {
	ctx, span := startResolveSpan(ctx, req.Parent, req.TypeVar, visited.Len())
	defer span.End()
	recordDepth(ctx, visited.Len())

	cans := dedupe(req.Candidates)
	if len(cans) > 1 && slices.Contains(cans, catalog.Unconstrained) {
		cans = slices.DeleteFunc(cans, func(c string) bool { return c == catalog.Unconstrained })
	}

	var direct, applied []string
	for _, c := range cans {
		switch {
		case visited.Has(c):
		case catalog.IsGenericApplication(c):
			applied = append(applied, c)
		case excluded[c]:
		default:
			direct = append(direct, c)
		}
	}

	if len(direct) > 0 {
		return r.resolveDirect(ctx, sc, req, direct, visited)
	}
	if res, ok, err := r.resolveApplied(ctx, sc, req, applied, visited); ok || err != nil {
		return res, err
	}

	support := slices.Clone(req.Bounds)
	note := fmt.Sprintf("For `%s` type in `%s`, you need to write a concrete implementation that satisfied bounds: `%s`.\n",
		r.cat.FullPath(req.TypeVar), r.cat.FullPath(req.Parent), strings.Join(r.cat.FullPaths(req.Bounds), ", "))
	return Resolution{Outcome: Unresolved{Note: note, Subject: req.TypeVar}, Support: support}, nil
}

type tried struct {
	ty  string
	out Outcome
}

func (r *Resolver) resolveDirect(ctx context.Context, sc *Scope, req Request, direct []string, visited Visited) (Resolution, error) {
	var (
		results  []tried
		support  []string
		stdCount int
	)
	for _, can := range direct {
		var (
			out Outcome
			err error
		)
		switch {
		case catalog.IsStd(can):
			stdCount++
			if stdCount > maxStdCandidates {
				r.logger.Debug("skipping std candidate", "type_var", req.TypeVar, "candidate", can)
				continue
			}
			out, err = r.ResolveStd(ctx, sc, req.Parent, can)

		case can == catalog.Unconstrained:
			out = r.Placeholder(ctx, req.DefPath, req.TypeVar)

		case len(sc.Deps[can]) == 0:
			out, err = r.ResolveSourceOnly(ctx, sc, req.Parent, req.TypeVar, can)

		default:
			inner := visited.With(can)
			nested := sc.Deps[can]
			hints := make([]ContextHint, 0, len(nested))
			for _, k := range sortedKeys(nested) {
				sub, serr := r.Resolve(ctx, sc, Request{
					Parent:     can,
					DefPath:    can,
					TypeVar:    k,
					Bounds:     nested[k],
					Candidates: sc.Candidates[can][k],
				}, inner)
				if serr != nil {
					return Resolution{}, serr
				}
				support = append(support, sub.Support...)
				hints = append(hints, ContextHint{Param: k, Outcome: sub.Outcome})
			}
			out, err = r.ResolveWithContext(ctx, sc, req.DefPath, can, hints)
		}
		if err != nil {
			return Resolution{}, err
		}
		results = append(results, tried{ty: can, out: out})
	}

	var note strings.Builder
	if len(results) == 1 && results[0].ty == catalog.Unconstrained {
		fmt.Fprintf(&note, "For `%s` type in `%s`, we don't find explicit bounds.\n",
			r.cat.FullPath(req.TypeVar), r.cat.FullPath(req.Parent))
	} else {
		names := make([]string, len(results))
		for i, t := range results {
			names[i] = r.cat.FullPath(t.ty)
		}
		fmt.Fprintf(&note, "For `%s` type in `%s`, we have %d candidates: `%s`\n",
			r.cat.FullPath(req.TypeVar), r.cat.FullPath(req.Parent), len(results), strings.Join(names, "`, `"))
	}
	for _, t := range results {
		note.WriteString(t.out.Description())
		note.WriteString("\n")
		support = append(support, t.ty)
	}

	for _, t := range results {
		if IsResolved(t.out) {
			return Resolution{Outcome: t.out, Support: support}, nil
		}
	}
	return Resolution{Outcome: Unresolved{Note: note.String(), Subject: req.TypeVar}, Support: support}, nil
}

// resolveApplied follows the first already-instantiated generic form that
// has a nested parameter. ok is false when none has.
func (r *Resolver) resolveApplied(ctx context.Context, sc *Scope, req Request, applied []string, visited Visited) (Resolution, bool, error) {
	for _, can := range applied {
		nested := sc.Deps[can]
		if len(nested) == 0 {
			continue
		}
		k := sortedKeys(nested)[0]
		support := []string{k, can}
		sub, err := r.Resolve(ctx, sc, Request{
			Parent:     can,
			DefPath:    can,
			TypeVar:    k,
			Bounds:     nested[k],
			Candidates: sc.Candidates[can][k],
		}, visited.With(can))
		if err != nil {
			return Resolution{}, true, err
		}
		support = append(support, sub.Support...)
		note := fmt.Sprintf("For `%s` type in `%s`, `%s` can be used: \n",
			r.cat.FullPath(req.TypeVar), r.cat.FullPath(req.Parent), r.cat.FullPath(can)) + sub.Outcome.Description()
		return Resolution{Outcome: withNote(sub.Outcome, note), Support: support}, true, nil
	}
	return Resolution{}, false, nil
}

// Placeholder describes a type variable without explicit bounds. It never
// contacts the oracle and is always unresolved.
func (r *Resolver) Placeholder(ctx context.Context, defPath, typeVar string) Outcome {
	key := catalog.Unconstrained + "@" + defPath + "::" + typeVar
	out, cached, _ := r.memo.Do(key, func() (Outcome, error) {
		return Unresolved{
			Note: fmt.Sprintf("The `%s` in `%s` doesn't have type bounds. It might have other implicit bounds",
				r.cat.FullPath(typeVar), r.cat.FullPath(defPath)),
			Subject: typeVar,
		}, nil
	})
	if cached {
		recordMemoHit(ctx)
	}
	return out
}

// ResolveStd instantiates a standard library type without further
// context.
func (r *Resolver) ResolveStd(ctx context.Context, sc *Scope, parent, ty string) (Outcome, error) {
	full := r.cat.FullPath(ty)
	note := fmt.Sprintf("the `%s` can be used in %s. ", full, r.cat.FullPath(parent))
	return r.verified(ctx, sc, observe.PhaseBuiltIn, ty, note, func(v string) string {
		return stdPrompt(v, full, r.crate, sc.File)
	})
}

// ResolveSourceOnly instantiates a crate type that has no generic
// parameters of its own, from its definition and constructors.
func (r *Resolver) ResolveSourceOnly(ctx context.Context, sc *Scope, parent, defPath, ty string) (Outcome, error) {
	full := r.cat.FullPath(ty)
	cons := constructorHint(r.cat.Constructors(ty), full, true)
	note := fmt.Sprintf("the `%s` satisfies `%s` in `%s`. ", full, r.cat.FullPath(defPath), r.cat.FullPath(parent)) + cons
	info := r.structInfo(ty)
	return r.verified(ctx, sc, observe.PhaseSourceOnly, ty, note, func(v string) string {
		return sourceOnlyPrompt(v, full, r.crate, sc.File, cons, info)
	})
}

// ResolveWithContext instantiates a crate type whose own generic
// parameters were resolved into hints.
func (r *Resolver) ResolveWithContext(ctx context.Context, sc *Scope, defPath, ty string, hints []ContextHint) (Outcome, error) {
	full := r.cat.FullPath(ty)
	cons := constructorHint(r.cat.Constructors(ty), full, false)
	note := fmt.Sprintf("for `%s` used as `%s`, ", full, r.cat.FullPath(defPath)) + cons
	info := r.structInfo(ty)
	for _, h := range hints {
		line := h.render(r.cat.FullPath)
		info += line
		note += line
	}
	return r.verified(ctx, sc, observe.PhaseContext, ty, note, func(v string) string {
		return contextPrompt(v, full, cons, info)
	})
}

func (r *Resolver) structInfo(ty string) string {
	code, file := r.cat.Definition(ty)
	loc := ""
	if file != "" {
		loc = " in " + file
	}
	return StructInfo(r.cat.FullPath(ty), loc, code)
}

// verified runs the oracle/compile-verify loop for ty, memoized by ty.
// prompt builds the user prompt for the allocated variable name.
func (r *Resolver) verified(ctx context.Context, sc *Scope, phase observe.Phase, ty, note string, prompt func(v string) string) (Outcome, error) {
	out, cached, err := r.memo.Do(ty, func() (Outcome, error) {
		v := fmt.Sprintf("v%d", r.vars.Next())
		user := prompt(v)
		full := r.cat.FullPath(ty)
		var draft string

		for attempt := 1; attempt <= r.attempts; attempt++ {
			raw, err := r.oracle.Ask(ctx, SystemPrompt, user)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.rec.RecordParam(sc.Function, observe.ParamAttempt{
					Phase:      phase,
					TargetType: full,
					Prompt:     user,
				})
				if oracle.IsContextLength(err) {
					r.logger.Warn("prompt exceeds context length, giving up",
						"function", sc.Function, "type", full, "phase", string(phase))
					break
				}
				r.logger.Warn("oracle gave no answer",
					"function", sc.Function, "type", full, "attempt", attempt, "error", err)
				continue
			}

			code := oracle.ExtractCode(raw)
			draft = code
			r.rec.Inc(observe.ParamAttempts)
			res, perr := sc.Workspace.Probe(ctx, code, sandbox.ModeVerify,
				sandbox.Selector{Module: PrepareModule, Variable: v})
			if perr != nil {
				r.rec.Inc(observe.ParamFailures)
				r.rec.RecordParam(sc.Function, observe.ParamAttempt{
					Phase:             phase,
					TargetType:        full,
					Prompt:            user,
					ResponseRaw:       raw,
					ResponseProcessed: code,
					CompilerOutput:    perr.Error(),
				})
				return nil, fmt.Errorf("verify %s: %w", ty, perr)
			}

			if res.OK {
				r.rec.Inc(observe.ParamSuccess)
			} else {
				r.rec.Inc(observe.ParamFailures)
			}
			r.rec.RecordParam(sc.Function, observe.ParamAttempt{
				Phase:             phase,
				TargetType:        full,
				Prompt:            user,
				ResponseRaw:       raw,
				ResponseProcessed: code,
				Success:           res.OK,
				CompilerOutput:    res.Output,
			})
			r.logger.Info("instantiation attempt",
				"function", sc.Function, "type", full, "phase", string(phase),
				"attempt", attempt, "variable", v, "ok", res.OK)

			if res.OK {
				recordResolution(ctx, string(phase), true)
				return Resolved{Code: code, Note: note, Subject: ty}, nil
			}
		}
		recordResolution(ctx, string(phase), false)
		return Unresolved{Note: note, Subject: ty, Draft: draft}, nil
	})
	if cached {
		recordMemoHit(ctx)
		r.logger.Debug("memo hit", "type", ty)
	}
	return out, err
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
