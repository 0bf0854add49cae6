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
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Request is one conversational exchange: a system preamble and a single
// user message.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Backend sends a Request to a model service and returns its text.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Factory builds a fresh Backend. The client calls it again after a
// transient failure.
type Factory func() (Backend, error)

// =============================================================================
// OpenAI
// =============================================================================

// OpenAIBackend talks to an OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend creates a backend for apiKey and baseURL. An empty
// baseURL uses the public endpoint.
func NewOpenAIBackend(apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIFactory returns a Factory that reads the API key from secret on
// every construction.
func OpenAIFactory(secret *Secret, baseURL string) Factory {
	return func() (Backend, error) {
		key, err := secret.Reveal()
		if err != nil {
			return nil, fmt.Errorf("open api key: %w", err)
		}
		return NewOpenAIBackend(key, baseURL), nil
	}
}

// =============================================================================
// Ollama
// =============================================================================

// OllamaBackend talks to a local Ollama server through langchaingo.
type OllamaBackend struct {
	llm *ollama.LLM
}

// NewOllamaBackend creates a backend for model on serverURL.
func NewOllamaBackend(model, serverURL string) (*OllamaBackend, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaBackend{llm: llm}, nil
}

// Complete implements Backend.
func (b *OllamaBackend) Complete(ctx context.Context, req Request) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := b.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// OllamaFactory returns a Factory for model on serverURL.
func OllamaFactory(model, serverURL string) Factory {
	return func() (Backend, error) {
		return NewOllamaBackend(model, serverURL)
	}
}

// NewFactory selects a Factory by backend name.
func NewFactory(backend, model, baseURL string, secret *Secret) (Factory, error) {
	switch backend {
	case "openai", "":
		return OpenAIFactory(secret, baseURL), nil
	case "ollama":
		return OllamaFactory(model, baseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
