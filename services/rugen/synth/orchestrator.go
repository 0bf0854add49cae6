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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/catalog"
	"github.com/AleutianAI/rugen/services/rugen/resolve"
)

// DefaultWidth is the parameter worker pool width.
const DefaultWidth = 4

// Plan is the merged result of resolving every parameter slot of one
// function.
type Plan struct {
	// HasSample holds the slot indices that carry verified code.
	HasSample map[int]bool

	// Fragments is the synthesis prompt fragment per slot, in slot order.
	Fragments []string

	// Support lists the types whose definitions should accompany the
	// prompt, in discovery order. It may repeat.
	Support []string
}

// Samples returns the slot indices with verified code, ascending.
func (p Plan) Samples() []int {
	out := make([]int, 0, len(p.HasSample))
	for i := range p.HasSample {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// Orchestrator resolves the parameter slots of a function in parallel.
//
// # Description
//
// Each slot becomes one job on a bounded errgroup. Primitive slots never
// contact the oracle. Typed slots go through the resolver: via their
// bounds when the function records bounds for the slot type, otherwise
// directly as a standard library or self-contained type. Jobs overlap
// only their oracle round trips; every probe still takes the sandbox
// lock.
//
// # Thread Safety
//
// Safe for concurrent use.
type Orchestrator struct {
	cat      *catalog.Catalog
	resolver *resolve.Resolver
	width    int
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. width below 1 uses
// DefaultWidth.
func NewOrchestrator(cat *catalog.Catalog, r *resolve.Resolver, width int, logger *slog.Logger) *Orchestrator {
	if width < 1 {
		width = DefaultWidth
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{cat: cat, resolver: r, width: width, logger: logger}
}

type slotResult struct {
	fragment string
	sample   bool
	support  []string
}

// ResolveParameters resolves every slot of occ against ws.
//
// # Inputs
//
//   - ctx: Cancels outstanding jobs.
//   - occ: The target occurrence. Its Deps and Candidates are the
//     dependency closure.
//   - ws: The workspace holding occ's file.
//
// # Outputs
//
//   - Plan: Fragments and samples ordered by slot index.
//   - error: The first sandbox I/O error or cancellation of any job.
func (o *Orchestrator) ResolveParameters(ctx context.Context, occ catalog.Occurrence, ws resolve.Prober) (Plan, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ResolveParameters",
		trace.WithAttributes(
			attribute.String("synth.function", occ.Function),
			attribute.Int("synth.slots", len(occ.Slots)),
		),
	)
	defer span.End()

	sc := &resolve.Scope{
		Function:   occ.Function,
		File:       occ.File,
		Workspace:  ws,
		Deps:       occ.Deps,
		Candidates: occ.Candidates,
	}

	// each job owns one index
	results := make([]slotResult, len(occ.Slots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.width)
	for i, slot := range occ.Slots {
		g.Go(func() error {
			res, err := o.resolveSlot(gctx, sc, occ, i, slot)
			if err != nil {
				return fmt.Errorf("slot %d (%s): %w", i, slot.Type, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Plan{}, err
	}

	plan := Plan{HasSample: make(map[int]bool)}
	for i, r := range results {
		plan.Fragments = append(plan.Fragments, r.fragment)
		if r.sample {
			plan.HasSample[i] = true
		}
		plan.Support = append(plan.Support, r.support...)
	}
	o.logger.Info("parameters resolved",
		"function", occ.Function,
		"slots", len(occ.Slots),
		"samples", len(plan.HasSample),
	)
	return plan, nil
}

func (o *Orchestrator) resolveSlot(ctx context.Context, sc *resolve.Scope, occ catalog.Occurrence, idx int, slot catalog.Slot) (slotResult, error) {
	if slot.IsPrimitive() {
		return slotResult{fragment: primitiveFragment(idx, slot.Primitive)}, nil
	}

	ty := slot.Type
	defPath := o.cat.DefPath(ty)

	var (
		out     resolve.Outcome
		support []string
		err     error
	)
	if bounds, ok := occ.Deps[occ.Function][ty]; ok {
		var res resolve.Resolution
		res, err = o.resolver.Resolve(ctx, sc, resolve.Request{
			Parent:     occ.Function,
			DefPath:    defPath,
			TypeVar:    ty,
			Bounds:     bounds,
			Candidates: occ.Candidates[occ.Function][ty],
		}, resolve.Visited{})
		out, support = res.Outcome, res.Support
	} else if catalog.IsStd(ty) {
		out, err = o.resolver.ResolveStd(ctx, sc, occ.Function, ty)
	} else {
		support = []string{ty}
		out, err = o.resolver.ResolveSourceOnly(ctx, sc, occ.Function, defPath, ty)
	}
	if err != nil {
		return slotResult{}, err
	}

	if r, ok := out.(resolve.Resolved); ok {
		return slotResult{fragment: sampleFragment(idx, r.Subject, r.Code), sample: true}, nil
	}
	return slotResult{
		fragment: hintFragment(idx, out.SubjectType(), out.Description()),
		support:  support,
	}, nil
}
