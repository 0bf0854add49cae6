// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts uploads run artifacts to Google Cloud Storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/rugen/pkg/logging"
)

// ErrCredentials indicates the service account key file is missing.
var ErrCredentials = errors.New("service account key not found")

// Bucket opens object writers.
type Bucket interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.h.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

// Uploader copies local files under a prefix in one bucket.
type Uploader struct {
	bucket Bucket
	name   string
	client *storage.Client
	logger *slog.Logger
}

// NewGCSUploader creates an Uploader for bucketName, authenticated with the
// service account key at saKeyPath.
func NewGCSUploader(ctx context.Context, project, bucketName, saKeyPath string, logger *slog.Logger) (*Uploader, error) {
	if _, err := os.Stat(saKeyPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentials, saKeyPath)
	}
	opts := []option.ClientOption{option.WithCredentialsFile(saKeyPath)}
	if project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	u := NewUploader(gcsBucket{h: client.Bucket(bucketName)}, bucketName, logger)
	u.client = client
	return u, nil
}

// NewUploader creates an Uploader over any Bucket.
func NewUploader(b Bucket, name string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Uploader{bucket: b, name: name, logger: logger}
}

// UploadFile copies localPath to object.
func (u *Uploader) UploadFile(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.bucket.NewWriter(ctx, object, contentType(localPath))
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.name, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for gs://%s/%s: %w", u.name, object, err)
	}
	u.logger.Info("artifact uploaded", "file", localPath, "object", "gs://"+u.name+"/"+object)
	return nil
}

// UploadFiles copies each file to prefix/<base name> and returns the
// gs:// names that succeeded. Every file is attempted.
func (u *Uploader) UploadFiles(ctx context.Context, prefix string, files []string) ([]string, error) {
	var (
		done []string
		errs []error
	)
	for _, f := range files {
		object := path.Join(prefix, filepath.Base(f))
		if err := u.UploadFile(ctx, f, object); err != nil {
			errs = append(errs, err)
			continue
		}
		done = append(done, "gs://"+u.name+"/"+object)
	}
	return done, errors.Join(errs...)
}

// Close releases the storage client.
func (u *Uploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".patch":
		return "text/x-diff; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
