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

import (
	"fmt"
	"strings"
)

// SystemPrompt is the preamble of every instantiation request.
const SystemPrompt = "You are an expert in Rust and I need your help on development. " +
	"I will provide you the context and definition or sample \n" +
	"and will ask you to help me write the code. " +
	"Please pay attention to the paths and try to utilize the information I provided."

// PrepareModule is the module every instantiation snippet must define; the
// verify build runs it with MOD set to this name.
const PrepareModule = "tests_prepare"

func prepareSkeleton(v, ty string) string {
	return "```rust\n" +
		"#[cfg(test)]\n" +
		"mod " + PrepareModule + " {\n" +
		"    #[test]\n" +
		"    fn sample() {\n" +
		"        let mut " + v + " = // create the local variable " + v + " with type " + ty + "\n" +
		"    }\n" +
		"}\n" +
		"```"
}

func stdPrompt(v, ty, crate, file string) string {
	return fmt.Sprintf("Please help me fill in the following code by creating an initialized local variable named `%s` "+
		"with type `%s` using its constructor method or structural build in `%s` crate's %s file.\n"+
		"    Fill in any sample data if necessary. The code to fill is below and don't change function and mod names. "+
		"Pay attention to the paths and reply the whole mod code only without other explanations.\n",
		v, ty, crate, file) + prepareSkeleton(v, ty)
}

func sourceOnlyPrompt(v, ty, crate, file, constructors, info string) string {
	return fmt.Sprintf("Please help me fill in the following code by creating an initialized local variable named `%s` "+
		"with type `%s` using its constructor method or structural build in `%s` crate %s file. %s\n%s  \n"+
		"The code to fill is below and don't change function and mod names. Fill in any sample data if necessary. "+
		"Pay attention to the paths and reply with the code only without other explanations.\n",
		v, ty, crate, file, constructors, info) + prepareSkeleton(v, ty)
}

func contextPrompt(v, ty, constructors, info string) string {
	return fmt.Sprintf("Please help me fill in the following code by creating an initialized local variable named `%s` "+
		"with type `%s` using its constructor method or structural build. %s\n%s  \n"+
		"The code to fill is below and don't change function and mod names. Fill in any sample data if necessary. "+
		"Pay attention to the paths and reply with the code only without other explanations.\n",
		v, ty, constructors, info) + prepareSkeleton(v, ty)
}

// StructInfo renders a type's definition block. fileLoc is "" or
// " in <file>".
func StructInfo(ty, fileLoc, code string) string {
	return fmt.Sprintf(" The relevant definition, and method of `%s`%s are shown below:\n```rust\n%s\n```\n", ty, fileLoc, code)
}

// constructorHint is "" when there are no constructors. capital selects
// the sentence-initial form.
func constructorHint(cons []string, ty string, capital bool) string {
	if len(cons) == 0 {
		return ""
	}
	verb := "try"
	if capital {
		verb = "Try"
	}
	return fmt.Sprintf("%s to use constructor functions like `%s` to build `%s`. ", verb, strings.Join(cons, ", "), ty)
}

// ContextHint is the outcome of one nested generic parameter, fed into
// the context-rich prompt of its owner.
type ContextHint struct {
	Param   string
	Outcome Outcome
}

func (h ContextHint) render(fullPath func(string) string) string {
	if r, ok := h.Outcome.(Resolved); ok {
		return fmt.Sprintf("For the generic arg `%s`, `%s` can be used, the code to construct it as a local variable "+
			"is shown below and is verified. Please reuse it without modifications of statements.\n```rust\n%s\n```",
			h.Param, fullPath(r.Subject), r.Code)
	}
	return fmt.Sprintf("For the generic arg `%s`, here are the hints: %s", h.Param, h.Outcome.Description())
}
