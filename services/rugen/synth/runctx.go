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
	"sync/atomic"

	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/resolve"
)

// ModuleIDs hands out test module ids above a seed.
//
// Thread Safety: Safe for concurrent use.
type ModuleIDs struct {
	last atomic.Int64
}

// NewModuleIDs returns a counter whose first id is existingMax+1. Pass -1
// when no module exists yet.
func NewModuleIDs(existingMax int) *ModuleIDs {
	m := &ModuleIDs{}
	m.last.Store(int64(existingMax))
	return m
}

// Next returns the next module id.
func (m *ModuleIDs) Next() int64 { return m.last.Add(1) }

// RunContext is the mutable state of one crate run: the counters, caches
// and logs every component shares. It is passed explicitly; nothing here
// is global.
type RunContext struct {
	ID       string
	Crate    string
	Vars     *resolve.VarCounter
	Modules  *ModuleIDs
	Memo     *resolve.Memo
	Recorder *observe.Recorder
}

// NewRunContext creates the run state for crate. existingMax is the
// highest module id already on disk, or -1.
func NewRunContext(id, crate string, existingMax int, rec *observe.Recorder) *RunContext {
	return &RunContext{
		ID:       id,
		Crate:    crate,
		Vars:     &resolve.VarCounter{},
		Modules:  NewModuleIDs(existingMax),
		Memo:     resolve.NewMemo(),
		Recorder: rec,
	}
}
