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

import "errors"

// Sentinel errors for the explore package.
var (
	// ErrInvalidInput indicates a query is missing a required field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPattern indicates the search pattern is not a valid
	// regular expression.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidExclude indicates an exclude glob is malformed.
	ErrInvalidExclude = errors.New("invalid exclude pattern")

	// ErrEntryFile indicates the entry file could not be read or parsed.
	ErrEntryFile = errors.New("entry file unavailable")
)
