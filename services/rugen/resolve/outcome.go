// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

// Outcome is the result of resolving one type: either Resolved or
// Unresolved.
type Outcome interface {
	// Description is the natural-language hint for the type.
	Description() string

	// SubjectType is the type the outcome is about.
	SubjectType() string

	isOutcome()
}

// Resolved carries instantiation code that passed compile-verify.
type Resolved struct {
	// Code is the verified `tests_prepare` module.
	Code    string
	Note    string
	Subject string
}

// Unresolved carries a hint; the synthesis prompt degrades to a
// description of how the type could be built.
type Unresolved struct {
	Note    string
	Subject string

	// Draft is the last extracted answer that failed verification, or ""
	// when the oracle never answered.
	Draft string
}

func (r Resolved) Description() string   { return r.Note }
func (r Resolved) SubjectType() string   { return r.Subject }
func (Resolved) isOutcome()              {}
func (u Unresolved) Description() string { return u.Note }
func (u Unresolved) SubjectType() string { return u.Subject }
func (Unresolved) isOutcome()            {}

// IsResolved reports whether o carries verified code.
func IsResolved(o Outcome) bool {
	_, ok := o.(Resolved)
	return ok
}

// withNote returns o with its description replaced.
func withNote(o Outcome, note string) Outcome {
	switch v := o.(type) {
	case Resolved:
		v.Note = note
		return v
	case Unresolved:
		v.Note = note
		return v
	}
	return Unresolved{Note: note}
}

// Resolution is an outcome plus the types whose definitions should be
// shown to the oracle when the outcome is unresolved.
type Resolution struct {
	Outcome Outcome

	// Support lists supporting types in discovery order. It may repeat.
	Support []string
}
