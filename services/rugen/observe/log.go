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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Phase names the resolution path that produced a parameter attempt.
type Phase string

const (
	PhaseBuiltIn    Phase = "prompt_built_in"
	PhaseSourceOnly Phase = "prompt_with_src_only"
	PhaseContext    Phase = "prompt_with_context"
)

// globalBucket collects attempts recorded without a function name.
const globalBucket = "GLOBAL"

// ParamAttempt is one compile-verify attempt at instantiating a type.
type ParamAttempt struct {
	Attempt           int    `json:"attempt"`
	Phase             Phase  `json:"phase"`
	TargetType        string `json:"target_type"`
	Prompt            string `json:"prompt"`
	ResponseRaw       string `json:"response_raw"`
	ResponseProcessed string `json:"response_processed"`
	Success           bool   `json:"success"`
	CompilerOutput    string `json:"compiler_output"`
}

// TestAttempt is one synthesized test and its compile result.
type TestAttempt struct {
	Attempt        int    `json:"attempt"`
	Prompt         string `json:"prompt"`
	ResponseRaw    string `json:"response_raw"`
	InjectedCode   string `json:"injected_code"`
	Success        bool   `json:"success"`
	CompilerOutput string `json:"compiler_output"`
}

// Buckets holds the attempts of one function.
type Buckets struct {
	Params []ParamAttempt `json:"parameter_instantiation"`
	Tests  []TestAttempt  `json:"test_generation"`
}

// FunctionLog is the attempts of one function, as returned by Functions.
type FunctionLog struct {
	Function string
	Buckets
}

// Log is the per-function attempt log. Functions keep the order in which
// they were first seen; attempts are numbered from 1 per bucket.
//
// Thread Safety: Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	order   []string
	buckets map[string]*Buckets
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{buckets: make(map[string]*Buckets)}
}

// Ensure creates an empty bucket for fn if there is none.
func (l *Log) Ensure(fn string) {
	l.mu.Lock()
	l.bucket(fn)
	l.mu.Unlock()
}

// must hold l.mu
func (l *Log) bucket(fn string) *Buckets {
	if fn == "" {
		fn = globalBucket
	}
	b, ok := l.buckets[fn]
	if !ok {
		b = &Buckets{Params: []ParamAttempt{}, Tests: []TestAttempt{}}
		l.buckets[fn] = b
		l.order = append(l.order, fn)
	}
	return b
}

// AppendParam appends a to fn's parameter bucket, numbering it when
// a.Attempt is zero, and returns the stored entry.
func (l *Log) AppendParam(fn string, a ParamAttempt) ParamAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(fn)
	if a.Attempt == 0 {
		a.Attempt = len(b.Params) + 1
	}
	b.Params = append(b.Params, a)
	return a
}

// AppendTest appends a to fn's test bucket, numbering it when a.Attempt
// is zero, and returns the stored entry.
func (l *Log) AppendTest(fn string, a TestAttempt) TestAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(fn)
	if a.Attempt == 0 {
		a.Attempt = len(b.Tests) + 1
	}
	b.Tests = append(b.Tests, a)
	return a
}

// Functions returns a copy of the log in first-seen order.
func (l *Log) Functions() []FunctionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FunctionLog, 0, len(l.order))
	for _, fn := range l.order {
		b := l.buckets[fn]
		out = append(out, FunctionLog{
			Function: fn,
			Buckets: Buckets{
				Params: append([]ParamAttempt{}, b.Params...),
				Tests:  append([]TestAttempt{}, b.Tests...),
			},
		})
	}
	return out
}

// WriteJSON writes the log as one JSON object keyed by function name,
// keys in first-seen order.
func (l *Log) WriteJSON(w io.Writer) error {
	return writeFunctions(w, l.Functions())
}

func writeFunctions(w io.Writer, fns []FunctionLog) error {
	bw := bufio.NewWriter(w)
	if len(fns) == 0 {
		bw.WriteString("{}\n")
		return bw.Flush()
	}
	bw.WriteString("{\n")
	for i, f := range fns {
		key, err := json.Marshal(f.Function)
		if err != nil {
			return fmt.Errorf("encode log key: %w", err)
		}
		val, err := json.MarshalIndent(f.Buckets, "  ", "  ")
		if err != nil {
			return fmt.Errorf("encode log for %s: %w", f.Function, err)
		}
		bw.WriteString("  ")
		bw.Write(key)
		bw.WriteString(": ")
		bw.Write(val)
		if i < len(fns)-1 {
			bw.WriteString(",")
		}
		bw.WriteString("\n")
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// ReadLog decodes a log written by WriteJSON, keeping key order.
func ReadLog(r io.Reader) ([]FunctionLog, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode log: expected object, got %v", tok)
	}

	var out []FunctionLog
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode log: %w", err)
		}
		fn, _ := tok.(string)
		var b Buckets
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("decode log for %s: %w", fn, err)
		}
		out = append(out, FunctionLog{Function: fn, Buckets: b})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	return out, nil
}
