// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseline = "pub fn add(a: u32, b: u32) -> u32 {\n    a + b\n}\n"

// fileBuilder snapshots the workspace file at build time and succeeds when
// the file contains want.
type fileBuilder struct {
	path string
	want string
	err  error

	mu       sync.Mutex
	seen     []string
	invs     []Invocation
	active   int32
	overlaps int32
	delay    time.Duration
}

func (b *fileBuilder) Build(ctx context.Context, inv Invocation) (Output, error) {
	if atomic.AddInt32(&b.active, 1) > 1 {
		atomic.AddInt32(&b.overlaps, 1)
	}
	defer atomic.AddInt32(&b.active, -1)
	time.Sleep(b.delay)

	data, _ := os.ReadFile(b.path)
	b.mu.Lock()
	b.seen = append(b.seen, string(data))
	b.invs = append(b.invs, inv)
	b.mu.Unlock()

	if b.err != nil {
		return Output{}, b.err
	}
	if strings.Contains(string(data), b.want) {
		return Output{ExitOK: true, Stdout: "test tests_rug_1::test_rug: test"}, nil
	}
	return Output{Stderr: "error[E0425]: cannot find value"}, nil
}

func setup(t *testing.T, want string) (*Sandbox, *Workspace, *fileBuilder, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	path := filepath.Join(dir, "src", "lib.rs")
	require.NoError(t, os.WriteFile(path, []byte(baseline), 0o644))

	b := &fileBuilder{path: path, want: want}
	sb := New(dir, "my-crate", b, nil)
	return sb, sb.Workspace("src/lib.rs"), b, path
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestProbe_SuccessRollsBack(t *testing.T) {
	_, ws, b, path := setup(t, "fn ok_marker")

	res, err := ws.Probe(context.Background(), "#[cfg(test)]\nmod tests { fn ok_marker() {} }", ModeCompile, Selector{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Output, "test_rug")

	// the build saw the appended code, the file no longer has it
	require.Len(t, b.seen, 1)
	assert.True(t, strings.HasPrefix(b.seen[0], baseline))
	assert.Contains(t, b.seen[0], "fn ok_marker")
	assert.Equal(t, baseline, readString(t, path))
}

func TestProbe_FailureRollsBackAndReturnsStderr(t *testing.T) {
	_, ws, _, path := setup(t, "never-present")

	res, err := ws.Probe(context.Background(), "mod broken {", ModeCompile, Selector{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, "E0425")
	assert.Equal(t, baseline, readString(t, path))
}

func TestProbe_BuildToolErrorRollsBack(t *testing.T) {
	_, ws, b, path := setup(t, "x")
	b.err = errors.New("exec: sh not found")

	_, err := ws.Probe(context.Background(), "fn x() {}", ModeCompile, Selector{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildTool)
	assert.Equal(t, baseline, readString(t, path))
}

func TestProbe_VerifySelector(t *testing.T) {
	_, ws, b, _ := setup(t, "v7")

	res, err := ws.Probe(context.Background(), "let mut v7 = 1;", ModeVerify,
		Selector{Module: "tests_prepare", Variable: "v7"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, b.invs, 1)
	assert.Equal(t, ModeVerify, b.invs[0].Mode)
	assert.Equal(t, "tests_prepare", b.invs[0].Selector.Module)
	assert.Equal(t, "v7", b.invs[0].Selector.Variable)
}

func TestProbe_RewritesCrateImports(t *testing.T) {
	_, ws, b, _ := setup(t, "use crate::add;")

	res, err := ws.Probe(context.Background(), "use my_crate::add;\n", ModeCompile, Selector{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotContains(t, b.seen[0], "use my_crate::")
}

func TestProbe_MissingFile(t *testing.T) {
	sb, _, _, _ := setup(t, "x")
	_, err := sb.Workspace("src/missing.rs").Probe(context.Background(), "x", ModeCompile, Selector{})
	assert.ErrorIs(t, err, ErrWorkspaceIO)
}

func TestProbe_Serialized(t *testing.T) {
	_, ws, b, path := setup(t, "fn")
	b.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ws.Probe(context.Background(), "fn f() {}", ModeCompile, Selector{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&b.overlaps), "probes overlapped")
	assert.Equal(t, baseline, readString(t, path))
	for _, s := range b.seen {
		// every probe started from the clean baseline
		assert.Equal(t, 1, strings.Count(s, "fn f() {}"))
	}
}

func TestCommit_AppendsOneBlockAndReprobeSucceeds(t *testing.T) {
	_, ws, _, path := setup(t, "mod tests_rug_3")
	code := "#[cfg(test)]\nmod tests_rug_3 {\n    use my_crate::add;\n}"

	res, err := ws.Probe(context.Background(), code, ModeCompile, Selector{})
	require.NoError(t, err)
	require.True(t, res.OK)

	c, err := ws.Commit(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, baseline, string(c.Before))

	after := readString(t, path)
	assert.Equal(t, baseline+c.Block, after)
	assert.Contains(t, c.Block, "use crate::add;")
	assert.True(t, strings.HasSuffix(c.Block, "\n"))

	res, err = ws.Probe(context.Background(), code, ModeCompile, Selector{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, after, readString(t, path))
}

func TestBlock_SeparatesFromUnterminatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	require.NoError(t, os.WriteFile(path, []byte("fn a() {}"), 0o644))

	ws := New(dir, "c", &fileBuilder{path: path}, nil).Workspace("lib.rs")
	c, err := ws.Commit(context.Background(), "fn b() {}")
	require.NoError(t, err)
	assert.Equal(t, "fn a() {}\nfn b() {}\n", readString(t, path))
	assert.Equal(t, "\nfn b() {}\n", c.Block)
}

func TestScanModuleIDs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib.rs"),
		[]byte("mod tests_rug_3 {}\npub mod tests_rug_12 {}\nmod tests_rug_x {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "nested", "m.rs"),
		[]byte("mod  tests_rug_40 {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "notes.txt"),
		[]byte("mod tests_rug_999 {}\n"), 0o644))

	got, err := ScanModuleIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, 40, got)
}

func TestScanModuleIDs_None(t *testing.T) {
	got, err := ScanModuleIDs(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, -1, got)
}
