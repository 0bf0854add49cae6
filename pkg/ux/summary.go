// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// CrateRow is one line of a batch summary.
type CrateRow struct {
	Crate     string
	Targets   int
	Succeeded int
	Failed    int
	Skipped   int

	// ParamRate is verified parameters over parameter attempts.
	ParamRate float64

	Commits  int
	Duration time.Duration

	// Err is set when the crate could not be processed.
	Err error
}

var summaryHeaders = []string{"CRATE", "TARGETS", "OK", "FAILED", "SKIPPED", "PARAM RATE", "COMMITS", "TIME"}

func (r CrateRow) cells() []string {
	if r.Err != nil {
		return []string{r.Crate, "-", "-", "-", "-", "-", "-", "error: " + r.Err.Error()}
	}
	return []string{
		r.Crate,
		fmt.Sprint(r.Targets),
		fmt.Sprint(r.Succeeded),
		fmt.Sprint(r.Failed),
		fmt.Sprint(r.Skipped),
		fmt.Sprintf("%.1f%%", r.ParamRate*100),
		fmt.Sprint(r.Commits),
		r.Duration.Round(time.Second).String(),
	}
}

// RenderSummary renders rows as a table. Machine mode emits tab-separated
// lines with a header.
func RenderSummary(rows []CrateRow) string {
	if Level() == PersonalityMachine {
		var b strings.Builder
		b.WriteString(strings.Join(summaryHeaders, "\t") + "\n")
		for _, r := range rows {
			b.WriteString(strings.Join(r.cells(), "\t") + "\n")
		}
		return b.String()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		Headers(summaryHeaders...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return base.Bold(true).Foreground(ColorTealBright)
			case row >= 0 && row < len(rows) && rows[row].Err != nil:
				return base.Foreground(ColorError)
			case col == 2:
				return base.Foreground(ColorSuccess)
			}
			return base
		})
	for _, r := range rows {
		t.Row(r.cells()...)
	}
	return t.Render() + "\n"
}
