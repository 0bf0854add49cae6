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
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/go-diff/diff"
)

// patchContext is the number of unchanged lines shown above a block.
const patchContext = 3

// PatchWriter collects committed blocks as unified diffs, one per commit
// in commit order. The result applies with `git apply` to the crate as it
// was before the run.
//
// Thread Safety: Safe for concurrent use.
type PatchWriter struct {
	mu    sync.Mutex
	diffs []*diff.FileDiff
}

// Add records that block was appended to file, whose content was before.
func (p *PatchWriter) Add(file string, before []byte, block string) {
	if block == "" {
		return
	}
	fd := &diff.FileDiff{
		OrigName: "a/" + file,
		NewName:  "b/" + file,
		Extended: []string{fmt.Sprintf("diff --git a/%s b/%s", file, file)},
		Hunks:    []*diff.Hunk{appendHunk(before, block)},
	}
	p.mu.Lock()
	p.diffs = append(p.diffs, fd)
	p.mu.Unlock()
}

// Len returns the number of recorded commits.
func (p *PatchWriter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.diffs)
}

// Bytes renders every recorded commit.
func (p *PatchWriter) Bytes() ([]byte, error) {
	p.mu.Lock()
	diffs := append([]*diff.FileDiff{}, p.diffs...)
	p.mu.Unlock()
	out, err := diff.PrintMultiFileDiff(diffs)
	if err != nil {
		return nil, fmt.Errorf("render patch: %w", err)
	}
	return out, nil
}

func appendHunk(before []byte, block string) *diff.Hunk {
	unterminated := len(before) > 0 && !bytes.HasSuffix(before, []byte("\n"))
	var orig []string
	if len(before) > 0 {
		orig = strings.Split(strings.TrimSuffix(string(before), "\n"), "\n")
	}
	if unterminated {
		// the separator newline is shown as a rewrite of the last line
		block = strings.TrimPrefix(block, "\n")
	}
	added := strings.Split(strings.TrimSuffix(block, "\n"), "\n")

	n := len(orig)
	c := min(patchContext, n)

	var body bytes.Buffer
	var noNewlineAt int32
	for i := n - c; i < n; i++ {
		if unterminated && i == n-1 {
			body.WriteString("-" + orig[i] + "\n")
			noNewlineAt = int32(body.Len())
			body.WriteString("+" + orig[i] + "\n")
			continue
		}
		body.WriteString(" " + orig[i] + "\n")
	}
	for _, l := range added {
		body.WriteString("+" + l + "\n")
	}

	h := &diff.Hunk{
		OrigLines:       int32(c),
		NewLines:        int32(c + len(added)),
		OrigNoNewlineAt: noNewlineAt,
		Body:            body.Bytes(),
	}
	if c == 0 {
		h.OrigStartLine = 0
		h.NewStartLine = 1
	} else {
		h.OrigStartLine = int32(n - c + 1)
		h.NewStartLine = int32(n - c + 1)
	}
	return h
}
