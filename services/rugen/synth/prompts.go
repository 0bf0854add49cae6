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

import (
	"fmt"
	"regexp"
	"strings"
)

// SystemPrompt is the preamble of every synthesis request.
const SystemPrompt = "You are an expert in Rust. I need your help to develop unit tests for the given function in the crate. " +
	"I will give you the information about the target function and relevant definitions. " +
	"I may give you the sample code to build the parameters, please strictly follow the sample code to construct the variable " +
	"(you can change the variable names) and its use statements since these code are verified. " +
	"Please only output the unit test (Rust code) for the target function without any explanations " +
	"and be strict about compiler checks and import paths. Please prepare the initial test data if necessary."

func primitiveFragment(idx int, primitive string) string {
	return fmt.Sprintf("For %dth argument, its type is `%s`, please use some sample data to initialize it.\n", idx+1, primitive)
}

func sampleFragment(idx int, ty, code string) string {
	return fmt.Sprintf("For %dth argument, `%s` can be used, please use following sample code to construct it:\n```rust\n%s\n```\n", idx+1, ty, code)
}

func hintFragment(idx int, ty, description string) string {
	return fmt.Sprintf("For %dth argument, `%s` can be used, please use following description to construct it:\n```\n%s\n```\n", idx+1, ty, description)
}

func targetPrompt(display, crate, file, defPath, trait, source string) string {
	traitClause := ""
	if trait != "" {
		traitClause = fmt.Sprintf(", as an implementation of `%s` trait", trait)
	}
	return fmt.Sprintf("The target function is `%s` in `%s` crate's %s file, its definition path is `%s`%s and source code is like below:\n```rust\n%s\n```\n\n",
		display, crate, file, defPath, traitClause, source)
}

// testSkeleton is the test module the oracle fills in. traitUse is "" or a
// full trait path imported from the crate.
func testSkeleton(traitUse string, slots int, call string) string {
	var params strings.Builder
	for i := 0; i < slots; i++ {
		fmt.Fprintf(&params, "let mut p%d = ... ;\n", i)
	}
	use := ""
	if traitUse != "" {
		use = "use crate::" + traitUse + ";"
	}
	return "#[cfg(test)]\n" +
		"mod tests {\n" +
		"    use super::*;\n" +
		"    " + use + "\n" +
		"    #[test]\n" +
		"    fn test_rug() {\n" +
		"        " + params.String() + "\n" +
		"        " + call + "\n" +
		"    }\n" +
		"}\n"
}

func stepsPrompt(samples, others []int, skeleton string) string {
	return "Please help me following steps on the code below to build the unit test:\n\n" +
		fmt.Sprintf("1. fill in the %s variables in the following code using the samples without modifications and keep the type declarations\n", paramList(samples)) +
		fmt.Sprintf("2. construct the variables %s based on hints if there isn't a sample and fill in the generic args if I didn't give you the generic args\n", paramList(others)) +
		"3. combine all the use statements and place them inside the `tests` mod, remove the duplicated use, but don't add new ones\n\n" +
		"```rust\n" + skeleton + "```\n"
}

func paramList(idx []int) string {
	names := make([]string, len(idx))
	for i, n := range idx {
		names[i] = fmt.Sprintf("p%d", n)
	}
	return strings.Join(names, ", ")
}

var testModule = regexp.MustCompile(`(\bpub\s+)?mod\s+(tests\b|tests_rug_[A-Za-z0-9_]+)\b`)

// normalizeModules renames every test module in code after id: the first
// becomes tests_rug_<id>, later ones tests_rug_<id>_1, tests_rug_<id>_2.
// A pub prefix is kept.
func normalizeModules(code string, id int64) string {
	n := 0
	return testModule.ReplaceAllStringFunc(code, func(m string) string {
		vis := testModule.FindStringSubmatch(m)[1]
		name := fmt.Sprintf("tests_rug_%d", id)
		if n > 0 {
			name = fmt.Sprintf("tests_rug_%d_%d", id, n)
		}
		n++
		return vis + "mod " + name
	})
}

// isTraitCast reports whether a call expression dispatches through a
// qualified trait path, which the synthesized test cannot spell.
func isTraitCast(call string) bool {
	return strings.Contains(call, "<") &&
		(strings.Contains(call, " for ") || strings.Contains(call, " as "))
}
