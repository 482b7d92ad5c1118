// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"log/slog"
)

const (
	// contextCheckInterval is how many nodes are visited between context checks.
	contextCheckInterval = 100

	// suggestionThreshold is the minimum Jaro-Winkler similarity for a
	// definition name to be suggested in place of a missing entry function.
	suggestionThreshold = 0.8

	// maxSuggestions caps the number of suggested names.
	maxSuggestions = 3
)

// FinderOptions configures a Finder.
type FinderOptions struct {
	// MaxDepth limits the number of cross-file calls on one path.
	// Zero means unlimited.
	MaxDepth int

	// MaxMatches stops the search after this many matches.
	// Zero means unlimited.
	MaxMatches int

	// Exclude lists doublestar globs. Definitions in matching files are
	// never followed. Globs are matched against the path relative to the
	// search root and against the absolute path.
	Exclude []string

	// Logger receives resolver diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultFinderOptions returns the defaults: no limits, no excludes.
func DefaultFinderOptions() FinderOptions {
	return FinderOptions{}
}

// Option is a functional option for Finder configuration.
type Option func(*FinderOptions)

// WithMaxDepth limits the number of cross-file calls followed on one path.
func WithMaxDepth(n int) Option {
	return func(o *FinderOptions) {
		if n >= 0 {
			o.MaxDepth = n
		}
	}
}

// WithMaxMatches stops the search after n matches.
func WithMaxMatches(n int) Option {
	return func(o *FinderOptions) {
		if n >= 0 {
			o.MaxMatches = n
		}
	}
}

// WithExclude adds globs for definition files that must not be followed.
func WithExclude(globs ...string) Option {
	return func(o *FinderOptions) {
		o.Exclude = append(o.Exclude, globs...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *FinderOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}
