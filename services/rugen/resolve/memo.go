// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Memo caches outcomes by type for the whole run. The key is the type
// alone, not the bound context that asked for it, so every call site
// shares one resolution.
//
// Concurrent callers for the same key share one computation.
//
// Thread Safety: Safe for concurrent use.
type Memo struct {
	mu    sync.RWMutex
	m     map[string]Outcome
	group singleflight.Group
	hits  atomic.Int64
}

// NewMemo creates an empty Memo.
func NewMemo() *Memo {
	return &Memo{m: make(map[string]Outcome)}
}

// Get returns the cached outcome for key.
func (m *Memo) Get(key string) (Outcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.m[key]
	return o, ok
}

// Do returns the cached outcome for key, or runs compute once and caches
// its outcome. cached is true when compute was not run by this caller.
// An error is returned to every waiting caller and nothing is cached.
func (m *Memo) Do(key string, compute func() (Outcome, error)) (o Outcome, cached bool, err error) {
	if o, ok := m.Get(key); ok {
		m.hits.Add(1)
		return o, true, nil
	}

	ran := false
	v, err, _ := m.group.Do(key, func() (any, error) {
		// another flight may have finished between Get and Do
		if o, ok := m.Get(key); ok {
			return o, nil
		}
		ran = true
		o, err := compute()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.m[key] = o
		m.mu.Unlock()
		return o, nil
	})
	if err != nil {
		return nil, false, err
	}
	if !ran {
		m.hits.Add(1)
	}
	return v.(Outcome), !ran, nil
}

// Hits returns how many lookups were served without computing.
func (m *Memo) Hits() int64 { return m.hits.Load() }

// Len returns the number of cached types.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Visited is the set of candidate types in progress along one resolution
// chain. It is never mutated; With returns an extended copy, so sibling
// branches cannot see each other's entries.
type Visited struct {
	set map[string]struct{}
}

// Has reports whether ty is in progress.
func (v Visited) Has(ty string) bool {
	_, ok := v.set[ty]
	return ok
}

// With returns a copy of v that also contains ty.
func (v Visited) With(ty string) Visited {
	next := make(map[string]struct{}, len(v.set)+1)
	for k := range v.set {
		next[k] = struct{}{}
	}
	next[ty] = struct{}{}
	return Visited{set: next}
}

// Len returns the chain depth.
func (v Visited) Len() int { return len(v.set) }

// VarCounter hands out run-unique variable names v1, v2, ...
//
// Thread Safety: Safe for concurrent use.
type VarCounter struct {
	n atomic.Int64
}

// Next returns the next variable number.
func (c *VarCounter) Next() int64 { return c.n.Add(1) }
