// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import "errors"

// Sentinel errors for the synth package.
var (
	// ErrIllegalTransition indicates a function state change the state
	// machine does not allow.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNoCrate indicates the crate directory does not exist.
	ErrNoCrate = errors.New("crate directory not found")

	// ErrAnalysisFailed indicates an analysis command exited non-zero.
	ErrAnalysisFailed = errors.New("analysis command failed")
)
