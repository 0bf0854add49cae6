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
	"github.com/awnumar/memguard"
)

// Secret holds an API key encrypted in memory between client
// constructions.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals key. An empty key yields a Secret that reveals "".
func NewSecret(key string) *Secret {
	if key == "" {
		return &Secret{}
	}
	// NewEnclave wipes its argument, so hand it a copy.
	return &Secret{enclave: memguard.NewEnclave([]byte(key))}
}

// Reveal decrypts the key.
func (s *Secret) Reveal() (string, error) {
	if s == nil || s.enclave == nil {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	// copy out before Destroy wipes the buffer
	return string(buf.Bytes()), nil
}
