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
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
)

// suggest returns up to maxSuggestions names similar to want, most similar
// first. Comparison is case-insensitive Jaro-Winkler.
func suggest(want string, names []string) []string {
	type scored struct {
		name  string
		score float32
	}

	seen := make(map[string]struct{}, len(names))
	var candidates []scored
	for _, name := range names {
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}

		score, err := edlib.StringsSimilarity(strings.ToLower(want), strings.ToLower(name), edlib.JaroWinkler)
		if err != nil || score < suggestionThreshold {
			continue
		}
		candidates = append(candidates, scored{name: name, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}
