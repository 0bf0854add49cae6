// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads the static-analysis catalog and execution log
// produced for a crate and exposes them as read-only records.
//
// Nothing in this package talks to the oracle or the build tool.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Unconstrained is the candidate marker for a type variable with no
// explicit bounds.
const Unconstrained = "RUG_ANY"

// derivedMethods holds the derive names whose associated snippets are
// noise in a prompt. A snippet that is a substring of it is skipped.
const derivedMethods = "CloneCopyDebug"

// Target is one entry of the catalog's targets table.
type Target struct {
	// Display is the short function name.
	Display string

	// Snippet is the function's source, when the analysis recorded it.
	Snippet string

	// Trait is the implemented trait, or empty.
	Trait string
}

// Source is a type's source snippet and origin location.
type Source struct {
	Snippet  string
	Location string
}

// File returns the file path embedded in the location, the text between
// its first and last double quote.
func (s Source) File() string {
	first := strings.Index(s.Location, `"`)
	last := strings.LastIndex(s.Location, `"`)
	if first < 0 || last <= first {
		return s.Location
	}
	return s.Location[first+1 : last]
}

// Bounds maps an owner (function or type) to its type variables and the
// trait bounds on each.
type Bounds map[string]map[string][]string

// Catalog is the decoded analysis catalog of one crate.
type Catalog struct {
	Targets           map[string]Target
	Dependencies      Bounds
	Sources           map[string]Source
	StructToTrait     map[string][]string
	TraitToStruct     map[string][]string
	SelfToFn          map[string][]string
	TypeToDefPath     map[string]string
	StructConstructor map[string][]string
	SingleImport      map[string]string

	// globs is glob_path_import ordered by descending prefix length.
	globs []globImport
}

type globImport struct {
	prefix      string
	replacement string
}

type rawCatalog struct {
	Targets           map[string][]json.RawMessage `json:"targets"`
	Dependencies      Bounds                       `json:"dependencies"`
	Srcs              map[string][]string          `json:"srcs"`
	StructToTrait     map[string][]string          `json:"struct_to_trait"`
	TraitToStruct     map[string][]string          `json:"trait_to_struct"`
	SelfToFn          map[string][]string          `json:"self_to_fn"`
	TypeToDefPath     map[string]string            `json:"type_to_def_path"`
	StructConstructor map[string][]string          `json:"struct_constructor"`
	SinglePathImport  map[string]string            `json:"single_path_import"`
	GlobPathImport    map[string]string            `json:"glob_path_import"`
}

// Decode reads a catalog document.
func Decode(r io.Reader) (*Catalog, error) {
	var raw rawCatalog
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrMalformed, err)
	}

	c := &Catalog{
		Targets:           make(map[string]Target, len(raw.Targets)),
		Dependencies:      orEmpty(raw.Dependencies),
		Sources:           make(map[string]Source, len(raw.Srcs)),
		StructToTrait:     raw.StructToTrait,
		TraitToStruct:     raw.TraitToStruct,
		SelfToFn:          raw.SelfToFn,
		TypeToDefPath:     raw.TypeToDefPath,
		StructConstructor: raw.StructConstructor,
		SingleImport:      raw.SinglePathImport,
	}

	for name, fields := range raw.Targets {
		var t Target
		t.Display = stringField(fields, 0)
		t.Snippet = stringField(fields, 1)
		t.Trait = stringField(fields, 2)
		c.Targets[name] = t
	}
	for ty, fields := range raw.Srcs {
		var s Source
		if len(fields) > 0 {
			s.Snippet = fields[0]
		}
		if len(fields) > 1 {
			s.Location = fields[1]
		}
		c.Sources[ty] = s
	}
	for prefix, repl := range raw.GlobPathImport {
		c.globs = append(c.globs, globImport{prefix: prefix, replacement: repl})
	}
	sort.SliceStable(c.globs, func(i, j int) bool {
		if len(c.globs[i].prefix) != len(c.globs[j].prefix) {
			return len(c.globs[i].prefix) > len(c.globs[j].prefix)
		}
		return c.globs[i].prefix < c.globs[j].prefix
	})
	return c, nil
}

// LoadFile decodes the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func stringField(fields []json.RawMessage, i int) string {
	if i >= len(fields) {
		return ""
	}
	var s string
	if err := json.Unmarshal(fields[i], &s); err != nil {
		return ""
	}
	return s
}

func orEmpty(b Bounds) Bounds {
	if b == nil {
		return Bounds{}
	}
	return b
}

// FullPath renders ty with the crate's import tables: an exact single-path
// import wins, else the longest matching glob prefix is replaced.
func (c *Catalog) FullPath(ty string) string {
	if p, ok := c.SingleImport[ty]; ok {
		return p
	}
	for _, g := range c.globs {
		if !strings.HasPrefix(ty, g.prefix) {
			continue
		}
		rest := ""
		if len(ty) > len(g.prefix)+2 {
			rest = ty[len(g.prefix)+2:]
		}
		if len(g.replacement) > 1 {
			return g.replacement + rest
		}
		return rest
	}
	return ty
}

// FullPaths applies FullPath to every element.
func (c *Catalog) FullPaths(tys []string) []string {
	out := make([]string, len(tys))
	for i, ty := range tys {
		out[i] = c.FullPath(ty)
	}
	return out
}

// DefPath returns the definition path recorded for ty, or ty itself.
func (c *Catalog) DefPath(ty string) string {
	if p, ok := c.TypeToDefPath[ty]; ok {
		return p
	}
	return ty
}

// Constructors returns the full paths of ty's constructor functions,
// excluding clone.
func (c *Catalog) Constructors(ty string) []string {
	var out []string
	for _, name := range c.StructConstructor[ty] {
		if name == "clone" {
			continue
		}
		out = append(out, c.FullPath(name))
	}
	return out
}

// Definition returns ty's source snippet followed by its associated method
// snippets, and the file the snippet came from. Both are empty when the
// catalog knows nothing about ty.
func (c *Catalog) Definition(ty string) (code, file string) {
	var b strings.Builder
	if src, ok := c.Sources[ty]; ok {
		b.WriteString(src.Snippet)
		file = src.File()
	}
	for _, m := range c.SelfToFn[ty] {
		if strings.Contains(derivedMethods, m) {
			continue
		}
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String(), file
}

// IsStd reports whether ty (after stripping a reference prefix) lives in
// std, core or alloc.
func IsStd(ty string) bool {
	s := ty
	switch {
	case strings.HasPrefix(s, "&mut"), strings.HasPrefix(s, "& mut "):
		i := strings.Index(s, "mut") + 4
		if i > len(s) {
			i = len(s)
		}
		s = s[i:]
	case strings.HasPrefix(s, "&"):
		i := strings.Index(s, " ") + 1
		if i < 1 {
			i = 1
		}
		s = s[i:]
	}
	return strings.HasPrefix(s, "std::") ||
		strings.HasPrefix(s, "core::") ||
		strings.HasPrefix(s, "alloc::")
}

// IsGenericApplication reports whether ty is an already-instantiated
// generic form such as `Vec::<T>` or `<T as Trait>`.
func IsGenericApplication(ty string) bool {
	return (strings.HasPrefix(ty, "<") || strings.Contains(ty, "::<")) &&
		strings.HasSuffix(ty, ">")
}

// LoadCrate reads <crate>.json and <crate>.out.txt from dir.
func LoadCrate(dir, crate string) (*Catalog, []Occurrence, error) {
	cat, err := LoadFile(filepath.Join(dir, crate+".json"))
	if err != nil {
		return nil, nil, err
	}
	logPath := filepath.Join(dir, crate+".out.txt")
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, logPath)
		}
		return nil, nil, fmt.Errorf("open execution log: %w", err)
	}
	defer f.Close()

	occs, err := ParseLog(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", logPath, err)
	}
	return cat, occs, nil
}
