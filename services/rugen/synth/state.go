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
	"fmt"
	"log/slog"
)

// State is the synthesis state of one target function.
type State int

const (
	// StatePending indicates the function has not been started.
	StatePending State = iota

	// StateResolving indicates its parameters are being resolved.
	StateResolving

	// StateTrying indicates synthesized tests are being probed.
	StateTrying

	// StateSuccess indicates a test was committed. Terminal.
	StateSuccess

	// StateFailed indicates every call expression was exhausted, or the
	// workspace failed. Terminal.
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StateTrying:
		return "trying"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for StateSuccess and StateFailed.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// allowed lists the legal successors of each state.
var allowed = map[State][]State{
	StatePending:   {StateResolving, StateFailed},
	StateResolving: {StateTrying, StateFailed},
	StateTrying:    {StateTrying, StateSuccess, StateFailed},
}

// Function tracks one target function through synthesis.
//
// Thread Safety: Not safe for concurrent use. A function is driven by one
// goroutine; only its parameter jobs run in parallel, and they never touch
// the Function.
type Function struct {
	Name  string
	File  string
	State State

	// Tries counts entries into StateTrying, one per synthesis attempt.
	Tries int

	logger *slog.Logger
}

// NewFunction creates a pending Function.
func NewFunction(name, file string, logger *slog.Logger) *Function {
	return &Function{Name: name, File: file, State: StatePending, logger: logger}
}

// transition moves f to next or returns ErrIllegalTransition.
func (f *Function) transition(next State) error {
	for _, s := range allowed[f.State] {
		if s == next {
			if f.logger != nil {
				f.logger.Debug("state transition",
					slog.String("function", f.Name),
					slog.String("from", f.State.String()),
					slog.String("to", next.String()),
				)
			}
			f.State = next
			if next == StateTrying {
				f.Tries++
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.State, next)
}
