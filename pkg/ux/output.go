// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the rugen CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette: deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon with its styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes leveled messages to Out and, in machine mode, warnings
// and errors to Err.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

// Title prints a styled title. Machine mode prints nothing.
func (p Printer) Title(text string) {
	if Level() == PersonalityMachine {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success line.
func (p Printer) Success(text string) {
	p.status("OK", IconSuccess, Styles.Success, p.Out, text)
}

// Warning prints a warning line.
func (p Printer) Warning(text string) {
	p.status("WARN", IconWarning, Styles.Warning, p.Err, text)
}

// Error prints an error line.
func (p Printer) Error(text string) {
	p.status("ERROR", IconError, Styles.Error, p.Err, text)
}

func (p Printer) status(tag string, icon Icon, style lipgloss.Style, machine io.Writer, text string) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintf(machine, "%s: %s\n", tag, text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), style.Render(text))
	}
}

// Info prints an informational line.
func (p Printer) Info(text string) {
	if Level() == PersonalityMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints content in a rounded box under title.
func (p Printer) Box(title, content string) {
	if Level() == PersonalityMachine {
		fmt.Fprintf(p.Out, "%s: %s\n", title, strings.ReplaceAll(content, "\n", " "))
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// ProgressBar renders a progress bar of width cells.
func ProgressBar(current, total, width int) string {
	if Level() == PersonalityMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := min(int(pct*float64(width)), width)
	return fmt.Sprintf("%s%s %3.0f%%",
		Styles.Success.Render(strings.Repeat("█", filled)),
		Styles.Muted.Render(strings.Repeat("░", width-filled)),
		pct*100)
}
