// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// maxLogLine bounds a single execution-log line. deps/candidates lines
// carry whole JSON maps and can be large.
const maxLogLine = 16 * 1024 * 1024

// Slot is one parameter of a target function. A slot with an empty Type
// is primitive and only needs literal sample data.
type Slot struct {
	Type      string
	Primitive string
}

// IsPrimitive reports whether the slot has no generic type.
func (s Slot) IsPrimitive() bool {
	return s.Type == ""
}

// Occurrence is one function record of the execution log.
type Occurrence struct {
	// File is the source file, relative to the crate root.
	File string

	// Function is the qualified target name, the key into Catalog.Targets.
	Function string

	Lifetimes string

	// Deps maps the function and every candidate type to the bounds of
	// their type variables. This is the dependency closure.
	Deps Bounds

	// Candidates maps the same owners to candidate types per type variable.
	Candidates Bounds

	// Calls are the call-expression candidates in discovery order.
	Calls []string

	Slots []Slot
}

// ParseLog parses an execution log.
//
// Records start at a line beginning with "----" and end at the next line
// beginning with "-----". Occurrences are returned grouped by file, files
// in first-seen order. A record without its deps: or candidates: line
// fails the whole log with ErrMalformed.
func ParseLog(r io.Reader) ([]Occurrence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read execution log: %w", err)
	}

	var (
		order  []string
		byFile = make(map[string][]Occurrence)
	)

	i := 0
	for i < len(lines) {
		if !strings.HasPrefix(lines[i], "----") {
			i++
			continue
		}
		if i+1 == len(lines) {
			// closing delimiter of the last record
			break
		}
		occ, next, err := parseRecord(lines, i)
		if err != nil {
			return nil, err
		}
		if _, seen := byFile[occ.File]; !seen {
			order = append(order, occ.File)
		}
		byFile[occ.File] = append(byFile[occ.File], occ)
		i = next
	}

	var out []Occurrence
	for _, f := range order {
		out = append(out, byFile[f]...)
	}
	return out, nil
}

// parseRecord parses the record whose delimiter is lines[at] and returns
// the index of the line that ends it.
func parseRecord(lines []string, at int) (Occurrence, int, error) {
	var occ Occurrence
	i := at + 1

	if i >= len(lines) {
		return occ, 0, malformed(i, "missing header line")
	}
	header := lines[i]
	sp := strings.IndexByte(header, ' ')
	if sp < 0 {
		return occ, 0, malformed(i, "header has no function name")
	}
	occ.File = header[:sp]
	occ.Function = strings.TrimSpace(header[sp+1:])

	if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "'") {
		occ.Lifetimes = lines[i+1]
		i++
	}

	i++
	if i >= len(lines) || !strings.HasPrefix(lines[i], "deps:") {
		return occ, 0, malformed(i, "expected deps: line")
	}
	if err := decodeBounds(strings.TrimPrefix(lines[i], "deps:"), &occ.Deps); err != nil {
		return occ, 0, malformed(i, "deps: "+err.Error())
	}

	i++
	if i >= len(lines) || !strings.HasPrefix(lines[i], "candidates:") {
		return occ, 0, malformed(i, "expected candidates: line")
	}
	if err := decodeBounds(strings.TrimPrefix(lines[i], "candidates:"), &occ.Candidates); err != nil {
		return occ, 0, malformed(i, "candidates: "+err.Error())
	}

	seen := make(map[string]bool)
	for i++; i < len(lines) && !strings.HasPrefix(lines[i], "-----"); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "+") {
			call := strings.TrimSpace(line[1:])
			if !seen[call] {
				seen[call] = true
				occ.Calls = append(occ.Calls, call)
			}
			continue
		}
		if slot, ok := parseSlot(line); ok {
			occ.Slots = append(occ.Slots, slot)
		}
	}
	return occ, i, nil
}

// parseSlot reads a parameter annotation: "None+<desc>" marks a primitive,
// otherwise the text after "//" is the slot type.
func parseSlot(line string) (Slot, bool) {
	_, after, ok := strings.Cut(line, "//")
	if !ok {
		return Slot{}, false
	}
	if _, desc, ok := strings.Cut(line, "None+"); ok {
		desc, _, _ = strings.Cut(desc, "+")
		return Slot{Primitive: strings.TrimSpace(desc)}, true
	}
	ty, _, _ := strings.Cut(after, "//")
	return Slot{Type: strings.TrimSpace(ty)}, true
}

func decodeBounds(s string, dst *Bounds) error {
	var b Bounds
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &b); err != nil {
		return err
	}
	*dst = orEmpty(b)
	return nil
}

func malformed(line int, what string) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, line+1, what)
}

// SkipReason returns why occ is not synthesized, or "" when it is
// eligible. Sources outside the crate and Debug/Display formatting impls
// are skipped, as are functions the catalog does not know.
func (c *Catalog) SkipReason(occ Occurrence) string {
	switch {
	case filepath.IsAbs(occ.File):
		return "external source file"
	case strings.HasSuffix(occ.Function, ">::fmt"):
		return "formatting impl"
	}
	if _, ok := c.Targets[occ.Function]; !ok {
		return "missing from catalog"
	}
	return ""
}
