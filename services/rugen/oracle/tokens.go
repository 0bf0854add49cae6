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
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt size for logging.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four bytes.
type ApproxCounter struct{}

// Count implements TokenCounter.
func (ApproxCounter) Count(text string) int {
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}

// TiktokenCounter counts with the model's BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a tiktoken counter for model, falling back to
// cl100k_base and then to ApproxCounter. Loading an encoding may fetch
// its vocabulary over the network on first use.
func NewTokenCounter(model string) TokenCounter {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &TiktokenCounter{enc: enc}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &TiktokenCounter{enc: enc}
	}
	return ApproxCounter{}
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
