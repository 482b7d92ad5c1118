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
	"fmt"
	"strings"
)

// Query describes one search.
type Query struct {
	// Root is the project directory. Reported file paths are relative to it.
	// Defaults to the entry file's directory.
	Root string

	// EntryFile is the file that defines the entry function.
	EntryFile string

	// Function is the name of the entry function or method.
	Function string

	// Pattern is a Go regular expression (RE2 syntax).
	Pattern string
}

// Validate checks that the required fields are set.
func (q Query) Validate() error {
	if strings.TrimSpace(q.EntryFile) == "" {
		return fmt.Errorf("%w: entry file is required", ErrInvalidInput)
	}
	if strings.TrimSpace(q.Function) == "" {
		return fmt.Errorf("%w: function is required", ErrInvalidInput)
	}
	if q.Pattern == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidInput)
	}
	return nil
}

// CallPathFrame is one cross-file call taken on the way to a match.
type CallPathFrame struct {
	// File holds the call site, relative to the search root.
	File string `json:"file"`

	// Function is the name of the function containing the call site.
	Function string `json:"function"`

	// FunctionLine is the 1-based line that function starts on.
	FunctionLine int `json:"function_line"`

	// CallLine is the 1-based line of the call site.
	CallLine int `json:"call_line"`
}

// String renders the frame as "file: function (line N)".
func (f CallPathFrame) String() string {
	return fmt.Sprintf("%s: %s (line %d)", f.File, f.Function, f.CallLine)
}

// MatchRecord is one occurrence of the pattern.
type MatchRecord struct {
	// File holds the match, relative to the search root.
	File string `json:"file"`

	// Function is the name of the function the match is in.
	Function string `json:"function"`

	// FunctionText is the source text of the node the pattern ran over.
	FunctionText string `json:"function_text"`

	// FunctionLine is the 1-based line that node starts on.
	FunctionLine int `json:"function_line"`

	// MatchLine is the 1-based line of the match.
	MatchLine int `json:"match_line"`

	// Path lists the cross-file calls from the entry function to the match,
	// outermost first. Empty when no cross-file call was followed.
	Path []CallPathFrame `json:"path"`
}

// Stats counts the work one search did.
type Stats struct {
	NodesVisited     int `json:"nodes_visited"`
	FilesParsed      int `json:"files_parsed"`
	ResolverRequests int `json:"resolver_requests"`
	Resolved         int `json:"resolved"`
	ResolverErrors   int `json:"resolver_errors"`
	Excluded         int `json:"excluded"`
}

// Result is the outcome of a search.
type Result struct {
	RunID     string `json:"run_id"`
	Root      string `json:"root"`
	EntryFile string `json:"entry_file"`
	Function  string `json:"function"`
	Pattern   string `json:"pattern"`

	// EntryFound is false when the entry file defines no function named
	// Function. Suggestions then lists similar names.
	EntryFound  bool     `json:"entry_found"`
	Suggestions []string `json:"suggestions,omitempty"`

	Matches []MatchRecord `json:"matches"`

	// Unresolved lists, sorted, the callee names that could not be followed.
	Unresolved []string `json:"unresolved"`

	Stats Stats `json:"stats"`

	// Truncated is set when a depth or match limit cut the search short.
	Truncated bool `json:"truncated"`
}
