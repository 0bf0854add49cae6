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
	"fmt"
	"strings"
	"unicode/utf8"
)

// cellLimit caps compiler output shown in a table cell, in runes.
const cellLimit = 160

// RenderMarkdown renders the run summary: a counter table followed by
// one section per function listing every attempt.
func RenderMarkdown(s Snapshot, fns []FunctionLog) string {
	lines := []string{
		"# RUG Run Summary",
		"",
		"| Metric                      | Count |",
		"| --------------------------- | ----- |",
		fmt.Sprintf("| Total Functions Targeted    | %d |", s.TotalTargets),
		fmt.Sprintf("| Functions with Tests Generated | %d |", s.TargetsSucceeded),
		fmt.Sprintf("| Functions Failed            | %d |", s.TargetsFailed),
		"| **Parameter Instantiation** |       |",
		fmt.Sprintf("| Total Attempts              | %d |", s.ParamAttempts),
		fmt.Sprintf("| Successful Instantiations   | %d |", s.ParamSuccess),
		fmt.Sprintf("| Failed Instantiations       | %d |", s.ParamFailures),
		"| **Test Code Generation**    |       |",
		fmt.Sprintf("| Total Attempts              | %d |", s.TestGenAttempts),
		fmt.Sprintf("| Successful Compilations     | %d |", s.TestGenSuccess),
		fmt.Sprintf("| Failed Compilations         | %d |", s.TestGenFailures),
		"",
		"---",
		"",
	}

	for _, f := range fns {
		lines = append(lines, fmt.Sprintf("## Function `%s`", f.Function))

		lines = append(lines, "### Parameter Instantiation Attempts")
		if len(f.Params) == 0 {
			lines = append(lines, "*(none)*")
		} else {
			lines = append(lines,
				"| Attempt | Phase | Type | Compile Success | Verify Success | Compiler Output |",
				"| ------- | ----- | ---- | --------------- | -------------- | --------------- |",
			)
			for _, a := range f.Params {
				// verify mode compiles first, so both columns share the result
				mark := checkMark(a.Success)
				lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s | %s | %s |",
					a.Attempt, a.Phase, a.TargetType, mark, mark, SanitizeCell(a.CompilerOutput)))
			}
		}
		lines = append(lines, "")

		lines = append(lines, "### Test Generation Attempts")
		if len(f.Tests) == 0 {
			lines = append(lines, "*(none)*")
		} else {
			lines = append(lines,
				"| Attempt | Compile Success | Compiler Output |",
				"| ------- | --------------- | --------------- |",
			)
			for _, a := range f.Tests {
				lines = append(lines, fmt.Sprintf("| %d | %s | %s |",
					a.Attempt, checkMark(a.Success), SanitizeCell(a.CompilerOutput)))
			}
		}
		lines = append(lines, "", "---", "")
	}
	return strings.Join(lines, "\n")
}

// SanitizeCell flattens s into one markdown table cell.
func SanitizeCell(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "|", "¦").Replace(s)
	if utf8.RuneCountInString(s) > cellLimit {
		s = string([]rune(s)[:cellLimit]) + "…"
	}
	return s
}

func checkMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
