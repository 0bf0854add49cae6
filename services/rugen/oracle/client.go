// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle is the code-generation oracle client.
//
// A Client wraps a Backend (OpenAI or Ollama) with a per-call timeout,
// exponential backoff between attempts, client reconstruction after
// transient transport errors, an optional request rate limit and prompt
// token estimation for logs.
//
// # Failure Classes
//
//   - timeout / connection failure: retried, client rebuilt first
//   - context length exceeded: returned at once, wraps ErrContextLength
//   - anything else: retried with backoff
//
// After the last attempt the error wraps ErrExhausted.
//
// # Thread Safety
//
// Client is safe for concurrent use. Parameter workers share one Client.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/retry"
)

// Oracle answers a prompt with free text that should hold one fenced
// code block.
type Oracle interface {
	Ask(ctx context.Context, system, prompt string) (string, error)
}

// Options configures a Client.
type Options struct {
	Model     string
	MaxTokens int

	// CallTimeout bounds one backend call. Zero disables the bound.
	CallTimeout time.Duration

	// Policy controls attempts and backoff. Retryable and OnRetry are
	// set by the client.
	Policy retry.Policy

	// RequestsPerSecond limits backend calls. Zero disables the limit.
	RequestsPerSecond float64

	// Tokens estimates prompt size. Nil uses ApproxCounter.
	Tokens TokenCounter

	Logger *slog.Logger
}

// Client is the retrying oracle client.
type Client struct {
	factory Factory

	mu      sync.Mutex
	backend Backend

	model     string
	maxTokens int
	timeout   time.Duration
	policy    retry.Policy
	limiter   *rate.Limiter
	tokens    TokenCounter
	logger    *slog.Logger
}

// NewClient builds the first backend with factory and returns a Client.
func NewClient(factory Factory, opts Options) (*Client, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("oracle policy: %w", err)
	}
	backend, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build oracle backend: %w", err)
	}

	c := &Client{
		factory:   factory,
		backend:   backend,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		timeout:   opts.CallTimeout,
		policy:    opts.Policy,
		tokens:    opts.Tokens,
		logger:    opts.Logger,
	}
	if c.tokens == nil {
		c.tokens = ApproxCounter{}
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	c.logger.Debug("oracle client ready",
		"model", c.model, "max_attempts", c.policy.MaxAttempts, "backoffs", c.policy.Backoffs())
	return c, nil
}

// Ask sends system and prompt and returns the raw answer.
func (c *Client) Ask(ctx context.Context, system, prompt string) (string, error) {
	approx := c.tokens.Count(system) + c.tokens.Count(prompt)
	ctx, span := startAskSpan(ctx, c.model, approx)
	defer span.End()

	var answer string
	policy := c.policy
	policy.Retryable = func(err error) bool { return !retry.IsPermanent(err) }
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("oracle attempt failed",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", wait,
			"error", err,
		)
		if IsTransient(err) {
			c.rebuild(ctx)
		}
	}

	result, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		c.logger.Info("oracle request",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"model", c.model,
			"approx_tokens", approx,
			"timeout", c.timeout,
			"preview", preview(prompt, 240),
		)

		start := time.Now()
		text, err := c.callOnce(ctx, Request{
			System:    system,
			Prompt:    prompt,
			Model:     c.model,
			MaxTokens: c.maxTokens,
		})
		elapsed := time.Since(start)
		if err != nil {
			recordCall(ctx, elapsed, outcome(err))
			return classify(err)
		}

		recordCall(ctx, elapsed, "ok")
		c.logger.Info("oracle response",
			"attempt", attempt,
			"elapsed", elapsed,
			"preview", preview(text, 200),
		)
		c.logger.Debug("oracle exchange", "prompt", prompt, "response", text)
		answer = text
		return nil
	})
	span.SetAttributes(attribute.Int("oracle.attempts", result.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle failed")
		if IsContextLength(err) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, result.Attempts, err)
	}
	return answer, nil
}

// callOnce runs one backend call under the per-call timeout. On timeout
// the call is abandoned: it keeps the parent context and its result is
// dropped.
func (c *Client) callOnce(ctx context.Context, req Request) (string, error) {
	backend := c.current()
	if c.timeout <= 0 {
		return backend.Complete(ctx, req)
	}

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := backend.Complete(ctx, req)
		ch <- reply{text: text, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) current() Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// rebuild replaces the backend. A failed rebuild keeps the old one.
func (c *Client) rebuild(ctx context.Context) {
	b, err := c.factory()
	if err != nil {
		c.logger.Warn("oracle client rebuild failed", "error", err)
		return
	}
	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
	recordRebuild(ctx)
	c.logger.Info("oracle client rebuilt")
}

func outcome(err error) string {
	switch {
	case IsContextLength(err):
		return "context_length"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
