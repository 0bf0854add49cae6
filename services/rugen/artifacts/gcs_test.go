// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObject struct {
	bytes.Buffer
	contentType string
	closed      bool
	failClose   bool
}

func (o *memObject) Close() error {
	o.closed = true
	if o.failClose {
		return errors.New("upload rejected")
	}
	return nil
}

type memBucket struct {
	objects   map[string]*memObject
	failClose map[string]bool
}

func (b *memBucket) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	o := &memObject{contentType: contentType, failClose: b.failClose[object]}
	b.objects[object] = o
	return o
}

func TestUploadFiles(t *testing.T) {
	dir := t.TempDir()
	summary := filepath.Join(dir, "rug_summary.md")
	log := filepath.Join(dir, "detailed_log.json")
	require.NoError(t, os.WriteFile(summary, []byte("# summary"), 0o644))
	require.NoError(t, os.WriteFile(log, []byte("{}"), 0o644))

	b := &memBucket{objects: map[string]*memObject{}}
	u := NewUploader(b, "runs", nil)

	done, err := u.UploadFiles(context.Background(), "demo/run-1", []string{summary, log})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"gs://runs/demo/run-1/rug_summary.md",
		"gs://runs/demo/run-1/detailed_log.json",
	}, done)

	obj := b.objects["demo/run-1/rug_summary.md"]
	require.NotNil(t, obj)
	assert.Equal(t, "# summary", obj.String())
	assert.True(t, obj.closed)
	assert.Equal(t, "text/markdown; charset=utf-8", obj.contentType)
	assert.Equal(t, "application/json", b.objects["demo/run-1/detailed_log.json"].contentType)
	assert.NoError(t, u.Close())
}

func TestUploadFiles_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "commits.patch")
	require.NoError(t, os.WriteFile(ok, []byte("--- a\n+++ b\n"), 0o644))

	b := &memBucket{
		objects:   map[string]*memObject{},
		failClose: map[string]bool{"p/commits.patch": false},
	}
	u := NewUploader(b, "runs", nil)

	done, err := u.UploadFiles(context.Background(), "p", []string{filepath.Join(dir, "missing.json"), ok})
	require.Error(t, err)
	assert.Equal(t, []string{"gs://runs/p/commits.patch"}, done)
}

func TestUploadFile_CloseError(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "rug_stats.json")
	require.NoError(t, os.WriteFile(f, []byte("{}"), 0o644))

	b := &memBucket{objects: map[string]*memObject{}, failClose: map[string]bool{"x/rug_stats.json": true}}
	err := NewUploader(b, "runs", nil).UploadFile(context.Background(), f, "x/rug_stats.json")
	assert.ErrorContains(t, err, "upload rejected")
}

func TestNewGCSUploader_MissingKey(t *testing.T) {
	_, err := NewGCSUploader(context.Background(), "proj", "bucket", filepath.Join(t.TempDir(), "key.json"), nil)
	assert.ErrorIs(t, err, ErrCredentials)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/x-diff; charset=utf-8", contentType("commits.patch"))
	assert.Equal(t, "application/octet-stream", contentType("blob.bin"))
}
