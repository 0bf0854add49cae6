// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import "strings"

const fence = "```"

// ExtractCode strips prose from an oracle answer and returns the contents
// of its rust fenced blocks. Text without any fence is returned as is.
// When no block is tagged rust, the first untagged block is used.
func ExtractCode(answer string) string {
	if !strings.Contains(answer, fence) {
		return answer
	}
	if code, ok := fencedBlocks(answer, isRustFence); ok {
		return code
	}
	code, _ := fencedBlocks(answer, func(line string) bool {
		return strings.TrimSpace(line) == fence
	})
	return code
}

func isRustFence(line string) bool {
	return strings.Contains(strings.ToLower(line), fence+"rust")
}

func fencedBlocks(answer string, opens func(string) bool) (string, bool) {
	var (
		out    []string
		inside bool
		found  bool
	)
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimRight(line, "\r")
		if !inside {
			if opens(line) {
				inside = true
				found = true
			}
			continue
		}
		if strings.Contains(line, fence) {
			inside = false
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), found
}
