// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/treefinder/services/trace/explore"
)

const (
	failedRule = "~~~~~~~~~~~~~~~~~"
	matchRule  = "-----------------"
)

// ReportRenderer writes search results.
type ReportRenderer struct {
	w    io.Writer
	mode Mode
}

// NewReportRenderer creates a renderer writing to w in mode.
func NewReportRenderer(w io.Writer, mode Mode) *ReportRenderer {
	return &ReportRenderer{w: w, mode: mode}
}

// Mode returns the renderer's mode.
func (r *ReportRenderer) Mode() Mode {
	return r.mode
}

// Render writes result.
//
// Text output lists the calls that could not be followed, then for every
// match its file, the first line of the matched function, the matched line
// and the call path from the entry function.
func (r *ReportRenderer) Render(result *explore.Result) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	if r.mode == ModeJSON {
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	var b strings.Builder
	if r.mode == ModeRich {
		r.rich(&b, result)
	} else {
		r.plain(&b, result)
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *ReportRenderer) plain(b *strings.Builder, result *explore.Result) {
	if !result.EntryFound {
		fmt.Fprintf(b, "Function %s not found in %s\n", result.Function, result.EntryFile)
		if len(result.Suggestions) > 0 {
			fmt.Fprintf(b, "Did you mean: %s?\n", strings.Join(result.Suggestions, ", "))
		}
		return
	}
	if len(result.Matches) == 0 {
		b.WriteString("No matches found\n")
		writeUnresolvedPlain(b, result.Unresolved)
		return
	}

	writeUnresolvedPlain(b, result.Unresolved)
	for _, m := range result.Matches {
		header, line := matchLines(m)
		b.WriteString(matchRule + "\n")
		b.WriteString(m.File + "\n")
		fmt.Fprintf(b, "%d %s\n", m.FunctionLine, header)
		fmt.Fprintf(b, "%d %s\n", m.MatchLine, line)
		b.WriteString("Path:\n")
		for _, frame := range m.Path {
			fmt.Fprintf(b, "%s ->\n", frame)
		}
		fmt.Fprintf(b, "%s %s\n", m.File, header)
	}
	if result.Truncated {
		b.WriteString("(results truncated by search limits)\n")
	}
}

func writeUnresolvedPlain(b *strings.Builder, unresolved []string) {
	if len(unresolved) == 0 {
		return
	}
	b.WriteString(failedRule + "\n")
	b.WriteString("Failed to follow:\n")
	for _, name := range unresolved {
		b.WriteString(name + "\n")
	}
}

func (r *ReportRenderer) rich(b *strings.Builder, result *explore.Result) {
	if !result.EntryFound {
		fmt.Fprintf(b, "%s Function %s not found in %s\n",
			IconError.Render(), Styles.Bold.Render(result.Function), Styles.File.Render(result.EntryFile))
		if len(result.Suggestions) > 0 {
			fmt.Fprintf(b, "  Did you mean %s?\n", Styles.Highlight.Render(strings.Join(result.Suggestions, ", ")))
		}
		return
	}

	if len(result.Unresolved) > 0 {
		fmt.Fprintf(b, "%s %s\n", IconWarning.Render(),
			Styles.Warning.Render(fmt.Sprintf("Failed to follow (%d)", len(result.Unresolved))))
		for _, name := range result.Unresolved {
			fmt.Fprintf(b, "  %s %s\n", IconBullet.Render(), name)
		}
		b.WriteString("\n")
	}

	for _, m := range result.Matches {
		header, line := matchLines(m)
		b.WriteString(Styles.File.Render(m.File) + "\n")
		fmt.Fprintf(b, "%s %s\n", Styles.LineNo.Render(fmt.Sprint(m.FunctionLine)), Styles.Muted.Render(header))
		fmt.Fprintf(b, "%s %s\n", Styles.LineNo.Render(fmt.Sprint(m.MatchLine)), Styles.Highlight.Render(line))
		if len(m.Path) > 0 {
			b.WriteString(Styles.Muted.Render("      via") + "\n")
			for _, frame := range m.Path {
				fmt.Fprintf(b, "        %s %s\n", frame, IconArrow.Render())
			}
			fmt.Fprintf(b, "        %s: %s\n", m.File, m.Function)
		}
		b.WriteString("\n")
	}

	files := make(map[string]struct{})
	for _, m := range result.Matches {
		files[m.File] = struct{}{}
	}
	icon := IconSuccess
	if len(result.Matches) == 0 {
		icon = IconWarning
	}
	fmt.Fprintf(b, "%s %s in %s %s %d calls followed\n",
		icon.Render(),
		Styles.Bold.Render(plural(len(result.Matches), "match", "matches")),
		plural(len(files), "file", "files"),
		Styles.Muted.Render("·"),
		result.Stats.Resolved,
	)
	if result.Truncated {
		fmt.Fprintf(b, "%s %s\n", IconWarning.Render(), Styles.Warning.Render("results truncated by search limits"))
	}
}

// matchLines returns the first line of the matched function's text and the
// line holding the match.
func matchLines(m explore.MatchRecord) (header, line string) {
	lines := strings.Split(m.FunctionText, "\n")
	header = strings.TrimRight(lines[0], " \t\r")
	if i := m.MatchLine - m.FunctionLine; i >= 0 && i < len(lines) {
		line = strings.TrimRight(lines[i], " \t\r")
	}
	return header, line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
