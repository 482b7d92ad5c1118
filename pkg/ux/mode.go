// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how a report is rendered.
type Mode string

const (
	// ModeRich uses colours and icons.
	ModeRich Mode = "rich"

	// ModePlain is uncoloured text suitable for pipes and logs.
	ModePlain Mode = "plain"

	// ModeJSON is the result encoded as indented JSON.
	ModeJSON Mode = "json"
)

// OutputEnv overrides the detected mode when set.
const OutputEnv = "TREEFINDER_OUTPUT"

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "color", "colour":
		return ModeRich, nil
	case "plain", "text", "machine":
		return ModePlain, nil
	case "json":
		return ModeJSON, nil
	default:
		return ModePlain, fmt.Errorf("unknown output mode %q", s)
	}
}

// DetectMode picks the mode for w.
//
// TREEFINDER_OUTPUT wins when it names a valid mode. Otherwise NO_COLOR or
// a destination that is not a terminal gives ModePlain, and a terminal
// gives ModeRich.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv(OutputEnv); env != "" {
		if mode, err := ParseMode(env); err == nil {
			return mode
		}
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	if isTerminal(w) {
		return ModeRich
	}
	return ModePlain
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
