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
	"regexp"
	"strings"
)

// occurrence is one pattern match inside a node's text.
type occurrence struct {
	// Offset is the byte offset of the match within the text.
	Offset int

	// Line is the 1-based line of the match in the file.
	Line int
}

// matcher runs the search pattern over node text.
type matcher struct {
	re *regexp.Regexp
}

func newMatcher(pattern string) (*matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &matcher{re: re}, nil
}

// find returns every non-overlapping match in text, which starts on
// startLine. Lines are counted by the newlines before each match.
func (m *matcher) find(text string, startLine int) []occurrence {
	spans := m.re.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return nil
	}

	out := make([]occurrence, 0, len(spans))
	line, counted := startLine, 0
	for _, span := range spans {
		line += strings.Count(text[counted:span[0]], "\n")
		counted = span[0]
		out = append(out, occurrence{Offset: span[0], Line: line})
	}
	return out
}
