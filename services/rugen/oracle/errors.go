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

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/rugen/services/rugen/retry"
)

// Sentinel errors for the oracle package.
var (
	// ErrTransient indicates a timeout or connection failure. The client
	// is rebuilt before the next attempt.
	ErrTransient = errors.New("transient oracle failure")

	// ErrTimeout indicates a call exceeded the per-call timeout. The
	// abandoned call keeps running; its result is discarded.
	ErrTimeout = errors.New("oracle call timed out")

	// ErrContextLength indicates the prompt exceeded the model's context
	// window. It is never retried.
	ErrContextLength = errors.New("oracle context length exceeded")

	// ErrExhausted indicates every attempt failed.
	ErrExhausted = errors.New("oracle attempts exhausted")

	// ErrEmptyResponse indicates the backend answered with no choices.
	ErrEmptyResponse = errors.New("oracle returned no choices")

	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown oracle backend")
)

// transientMarkers are lower-cased fragments of transport error text that
// call for a fresh client.
var transientMarkers = []string{
	"connection err",
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"remote disconnected",
	"eof",
}

// IsContextLength reports whether err says the prompt was too long.
func IsContextLength(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextLength) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "context_length_exceeded" {
		return true
	}
	return strings.Contains(err.Error(), "maximum context length")
}

// IsTransient reports whether err is a timeout or connection failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify wraps err so the retry policy sees a context-length failure as
// permanent. Everything else stays retryable.
func classify(err error) error {
	if IsContextLength(err) {
		if !errors.Is(err, ErrContextLength) {
			err = errors.Join(ErrContextLength, err)
		}
		return retry.Permanent(err)
	}
	return err
}
