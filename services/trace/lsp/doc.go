// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is a minimal Language Server Protocol client used to resolve
// call sites to their definitions.
//
// Tree-sitter gives the walker syntax; it cannot tell which class a method
// call on `$repo->find()` lands in. The language server can, so every
// cross-file edge is one textDocument/definition round trip.
//
// # Components
//
//   - Protocol: JSON-RPC framing over stdio, request correlation, replies to
//     server-initiated requests
//   - Server: one language server process and its handshake
//   - Manager: lazy per-language spawn, remembering spawn failures
//   - Operations: Definition with didOpen, rate limiting, timeout and retry
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	mgr := lsp.NewManager("/path/to/project", lsp.DefaultManagerConfig())
//	defer mgr.ShutdownAll(context.Background())
//
//	ops := lsp.NewOperations(mgr)
//	locs, err := ops.Definition(ctx, "/path/to/project/src/App.php", 10, 5)
package lsp
