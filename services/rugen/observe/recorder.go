// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observe

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/rugen/pkg/logging"
)

// Artifact file names written into the crate directory.
const (
	SummaryFile = "rug_summary.md"
	LogFile     = "detailed_log.json"
	StatsFile   = "rug_stats.json"
	PatchFile   = "commits.patch"
)

// Sink receives every attempt as it is recorded.
type Sink interface {
	WriteParam(fn string, a ParamAttempt) error
	WriteTest(fn string, a TestAttempt) error
}

// Recorder is the single place a run reports to. It owns the counters,
// the attempt log and the commit patch, and fans attempts out to sinks.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	stats   Stats
	log     *Log
	patches PatchWriter
	sinks   []Sink
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{log: NewLog(), sinks: sinks, logger: logger}
}

// Inc adds one to c.
func (r *Recorder) Inc(c Counter) {
	r.stats.Inc(c)
	recordEvent(c, 1)
}

// Stats returns the current counters.
func (r *Recorder) Stats() Snapshot { return r.stats.Snapshot() }

// Functions returns the attempt log.
func (r *Recorder) Functions() []FunctionLog { return r.log.Functions() }

// BeginFunction opens fn's log bucket so it appears in the report even
// when nothing is attempted.
func (r *Recorder) BeginFunction(fn string) { r.log.Ensure(fn) }

// RecordParam logs a parameter attempt under fn.
func (r *Recorder) RecordParam(fn string, a ParamAttempt) ParamAttempt {
	a = r.log.AppendParam(fn, a)
	for _, s := range r.sinks {
		if err := s.WriteParam(fn, a); err != nil {
			recordSinkError()
			r.logger.Warn("attempt sink failed", "function", fn, "error", err)
		}
	}
	return a
}

// RecordTest logs a synthesis attempt under fn.
func (r *Recorder) RecordTest(fn string, a TestAttempt) TestAttempt {
	a = r.log.AppendTest(fn, a)
	for _, s := range r.sinks {
		if err := s.WriteTest(fn, a); err != nil {
			recordSinkError()
			r.logger.Warn("attempt sink failed", "function", fn, "error", err)
		}
	}
	return a
}

// RecordCommit adds a committed block to the run patch.
func (r *Recorder) RecordCommit(file string, before []byte, block string) {
	r.patches.Add(file, before, block)
}

// Commits returns the number of recorded commits.
func (r *Recorder) Commits() int { return r.patches.Len() }

// Markdown renders the current summary.
func (r *Recorder) Markdown() string {
	return RenderMarkdown(r.Stats(), r.Functions())
}

// WriteArtifacts writes the summary, the attempt log, the counters and,
// when anything was committed, the patch into dir. It returns the paths
// written. A failure on one file does not stop the others.
func (r *Recorder) WriteArtifacts(dir string) ([]string, error) {
	var (
		written []string
		errs    []error
	)
	write := func(name string, render func() ([]byte, error)) {
		data, err := render()
		if err == nil {
			path := filepath.Join(dir, name)
			if err = os.WriteFile(path, data, 0o644); err == nil {
				written = append(written, path)
				return
			}
		}
		errs = append(errs, fmt.Errorf("write %s: %w", name, err))
	}

	write(SummaryFile, func() ([]byte, error) {
		return []byte(r.Markdown()), nil
	})
	write(LogFile, func() ([]byte, error) {
		var buf bytes.Buffer
		err := r.log.WriteJSON(&buf)
		return buf.Bytes(), err
	})
	write(StatsFile, func() ([]byte, error) {
		var buf bytes.Buffer
		err := r.Stats().WriteJSON(&buf)
		return buf.Bytes(), err
	})
	if r.patches.Len() > 0 {
		write(PatchFile, r.patches.Bytes)
	}

	if len(errs) > 0 {
		return written, fmt.Errorf("%d artifact(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return written, nil
}
