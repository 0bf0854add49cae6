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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `{
  "targets": {
    "demo::Parser::<T>::parse": ["parse", "fn parse(&self, input: T) -> bool { true }", "demo::Parse"],
    "demo::helper": ["helper", "fn helper() {}", ""]
  },
  "dependencies": {
    "demo::Parser::<T>::parse": {"T": ["std::io::Read"]}
  },
  "srcs": {
    "demo::Parser::<T>::parse": ["fn parse(&self, input: T) -> bool { true }", "Span { file: \"src/lib.rs\", line: 3 }"],
    "demo::Buffer": ["pub struct Buffer { data: Vec<u8> }\n", "Span { file: \"src/buffer.rs\", line: 1 }"]
  },
  "struct_to_trait": {"demo::Buffer": ["std::io::Read"]},
  "trait_to_struct": {"std::io::Read": ["demo::Buffer"]},
  "self_to_fn": {"demo::Buffer": ["Clone", "Debug", "fn new() -> Self"]},
  "type_to_def_path": {"T": "demo::Parser::T"},
  "struct_constructor": {"demo::Buffer": ["demo::Buffer::new", "clone", "demo::Buffer::with_capacity"]},
  "single_path_import": {"demo::inner::Hidden": "demo::Hidden"},
  "glob_path_import": {"demo::inner": "demo", "demo::inner::deep": "demo::deep", "demo::x": ""}
}`

func decodeSample(t *testing.T) *Catalog {
	t.Helper()
	c, err := Decode(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	return c
}

func TestDecode(t *testing.T) {
	c := decodeSample(t)

	target := c.Targets["demo::Parser::<T>::parse"]
	assert.Equal(t, "parse", target.Display)
	assert.Equal(t, "demo::Parse", target.Trait)
	assert.Contains(t, target.Snippet, "fn parse")

	bounds, ok := c.Dependencies["demo::Parser::<T>::parse"]["T"]
	require.True(t, ok)
	assert.Equal(t, []string{"std::io::Read"}, bounds)

	assert.Equal(t, "src/buffer.rs", c.Sources["demo::Buffer"].File())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"targets": [`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFullPath(t *testing.T) {
	c := decodeSample(t)

	tests := []struct {
		in, want string
	}{
		{"demo::inner::Hidden", "demo::Hidden"},
		{"demo::inner::deep::Thing", "demo::deepThing"},
		{"demo::inner::Other", "demoOther"},
		{"demo::x::Y", "Y"},
		{"other::Type", "other::Type"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, c.FullPath(tt.in))
		})
	}
}

func TestConstructors_DropsClone(t *testing.T) {
	c := decodeSample(t)
	assert.Equal(t,
		[]string{"demo::Buffer::new", "demo::Buffer::with_capacity"},
		c.Constructors("demo::Buffer"))
	assert.Empty(t, c.Constructors("demo::Unknown"))
}

func TestDefinition_SkipsDerivedMethods(t *testing.T) {
	c := decodeSample(t)

	code, file := c.Definition("demo::Buffer")
	assert.Equal(t, "src/buffer.rs", file)
	assert.Contains(t, code, "pub struct Buffer")
	assert.Contains(t, code, "fn new() -> Self")
	assert.NotContains(t, code, "Clone")
	assert.NotContains(t, code, "Debug")

	code, file = c.Definition("demo::Unknown")
	assert.Empty(t, code)
	assert.Empty(t, file)
}

func TestDefPath(t *testing.T) {
	c := decodeSample(t)
	assert.Equal(t, "demo::Parser::T", c.DefPath("T"))
	assert.Equal(t, "U", c.DefPath("U"))
}

func TestIsStd(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"std::vec::Vec<u8>", true},
		{"core::num::NonZeroU8", true},
		{"alloc::string::String", true},
		{"&std::path::Path", true},
		{"&mut std::string::String", true},
		{"& mut std::string::String", true},
		{"&'a std::path::Path", true},
		{"demo::Buffer", false},
		{"&demo::Buffer", false},
		{"stdx::Thing", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStd(tt.in))
		})
	}
}

func TestIsGenericApplication(t *testing.T) {
	assert.True(t, IsGenericApplication("Vec::<u8>"))
	assert.True(t, IsGenericApplication("<demo::Buffer as std::io::Read>"))
	assert.False(t, IsGenericApplication("Vec<u8>"))
	assert.False(t, IsGenericApplication("demo::Buffer"))
	assert.False(t, IsGenericApplication("<T as Trait>::Output"))
}

func TestLoadCrate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.json"), []byte(sampleCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.out.txt"), []byte(sampleLog), 0o644))

	cat, occs, err := LoadCrate(dir, "demo")
	require.NoError(t, err)
	assert.NotNil(t, cat)
	assert.Len(t, occs, 3)
}

func TestLoadCrate_Missing(t *testing.T) {
	_, _, err := LoadCrate(t.TempDir(), "demo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSkipReason(t *testing.T) {
	c := decodeSample(t)

	assert.Empty(t, c.SkipReason(Occurrence{File: "src/lib.rs", Function: "demo::helper"}))
	assert.Equal(t, "external source file",
		c.SkipReason(Occurrence{File: "/home/u/.cargo/registry/x.rs", Function: "demo::helper"}))
	assert.Equal(t, "formatting impl",
		c.SkipReason(Occurrence{File: "src/lib.rs", Function: "<demo::Buffer as std::fmt::Debug>::fmt"}))
	assert.Equal(t, "missing from catalog",
		c.SkipReason(Occurrence{File: "src/lib.rs", Function: "demo::gone"}))
}
