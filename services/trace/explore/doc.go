// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explore searches a PHP codebase for a pattern along the call graph
// of one entry function.
//
// The Finder walks the syntax tree of the entry function, runs the pattern
// over every function body and call expression it meets, and follows method
// calls and object construction into other files by asking a
// DefinitionProvider (normally a language server) where the callee is
// defined. Every (file, node) pair is visited at most once per search, so
// recursive call graphs terminate. Each match carries the chain of call
// sites that led to it.
//
// Example:
//
//	finder := explore.NewFinder(ast.NewTreeCache(nil), lsp.NewOperations(mgr))
//	result, err := finder.Search(ctx, explore.Query{
//	    Root:      "/project",
//	    EntryFile: "/project/src/App.php",
//	    Function:  "handle",
//	    Pattern:   `TargetClass`,
//	})
package explore
