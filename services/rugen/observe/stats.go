// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observe aggregates what a run did: counters, a per-function
// attempt log, the markdown summary and the commit patch.
//
// Everything here is safe for concurrent use. Recording never fails the
// caller; persistence problems are logged and dropped.
package observe

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Counter names one run statistic.
type Counter int

const (
	TotalTargets Counter = iota
	TargetsSucceeded
	TargetsFailed
	TargetsSkipped
	ParamAttempts
	ParamSuccess
	ParamFailures
	TestGenAttempts
	TestGenSuccess
	TestGenFailures

	numCounters
)

var counterNames = [numCounters]string{
	"total_targets",
	"targets_succeeded",
	"targets_failed",
	"targets_skipped",
	"param_attempts",
	"param_success",
	"param_failures",
	"test_gen_attempts",
	"test_gen_success",
	"test_gen_failures",
}

// String returns the snake_case name used in JSON and metrics.
func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return fmt.Sprintf("counter(%d)", int(c))
	}
	return counterNames[c]
}

// Snapshot is a point-in-time copy of the run statistics.
type Snapshot struct {
	TotalTargets     int `json:"total_targets"`
	TargetsSucceeded int `json:"targets_succeeded"`
	TargetsFailed    int `json:"targets_failed"`
	TargetsSkipped   int `json:"targets_skipped"`
	ParamAttempts    int `json:"param_attempts"`
	ParamSuccess     int `json:"param_success"`
	ParamFailures    int `json:"param_failures"`
	TestGenAttempts  int `json:"test_gen_attempts"`
	TestGenSuccess   int `json:"test_gen_success"`
	TestGenFailures  int `json:"test_gen_failures"`
}

// Stats holds the run counters.
//
// Thread Safety: Safe for concurrent use.
type Stats struct {
	mu sync.Mutex
	v  [numCounters]int
}

// Add adds delta to c.
func (s *Stats) Add(c Counter, delta int) {
	if c < 0 || c >= numCounters {
		return
	}
	s.mu.Lock()
	s.v[c] += delta
	s.mu.Unlock()
}

// Inc adds one to c.
func (s *Stats) Inc(c Counter) { s.Add(c, 1) }

// Get returns the current value of c.
func (s *Stats) Get(c Counter) int {
	if c < 0 || c >= numCounters {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v[c]
}

// Snapshot copies all counters under one lock acquisition.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	v := s.v
	s.mu.Unlock()
	return Snapshot{
		TotalTargets:     v[TotalTargets],
		TargetsSucceeded: v[TargetsSucceeded],
		TargetsFailed:    v[TargetsFailed],
		TargetsSkipped:   v[TargetsSkipped],
		ParamAttempts:    v[ParamAttempts],
		ParamSuccess:     v[ParamSuccess],
		ParamFailures:    v[ParamFailures],
		TestGenAttempts:  v[TestGenAttempts],
		TestGenSuccess:   v[TestGenSuccess],
		TestGenFailures:  v[TestGenFailures],
	}
}

// WriteJSON writes the snapshot as indented JSON.
func (s Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// ReadSnapshot decodes a snapshot written by WriteJSON.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}
