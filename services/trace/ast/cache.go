// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TreeCache parses each file at most once and keeps the result for the
// lifetime of the cache.
//
// Description:
//
//	Repeated Get calls for the same path return the same *File, so node
//	pointers and spans obtained from it are stable. Failures are cached too,
//	which keeps a broken file from being read again on every lookup.
//
// Thread Safety:
//
//	TreeCache is safe for concurrent use.
type TreeCache struct {
	registry *ParserRegistry

	mu      sync.Mutex
	entries map[string]*cacheEntry
	closed  bool
}

type cacheEntry struct {
	file *File
	err  error
}

// NewTreeCache creates a cache that selects parsers from registry.
func NewTreeCache(registry *ParserRegistry) *TreeCache {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &TreeCache{
		registry: registry,
		entries:  make(map[string]*cacheEntry),
	}
}

// Get returns the parsed file for path, parsing it on first use.
//
// Inputs:
//
//	ctx - Context for cancellation
//	path - File path. It is made absolute before lookup.
//
// Outputs:
//
//	*File - The parsed file, owned by the cache
//	error - ErrUnsupportedLanguage, read errors, or parse errors wrapped
//	        in *ParseError
func (c *TreeCache) Get(ctx context.Context, path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	if entry, ok := c.entries[abs]; ok {
		recordCacheLookup(ctx, true)
		return entry.file, entry.err
	}
	recordCacheLookup(ctx, false)

	file, err := c.load(ctx, abs)
	if ctx.Err() == nil {
		// Cancellation is not a property of the file.
		c.entries[abs] = &cacheEntry{file: file, err: err}
	}
	return file, err
}

func (c *TreeCache) load(ctx context.Context, abs string) (*File, error) {
	parser, ok := c.registry.GetByExtension(filepath.Ext(abs))
	if !ok {
		return nil, WrapParseError(fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(abs)), abs)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, WrapParseError(err, abs)
	}

	file, err := parser.Parse(ctx, content, abs)
	if err != nil {
		return nil, WrapParseError(err, abs)
	}
	return file, nil
}

// Len returns the number of files held, including failed ones.
func (c *TreeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached tree. Further Get calls fail with
// ErrCacheClosed.
func (c *TreeCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		entry.file.Close()
	}
	c.entries = make(map[string]*cacheEntry)
	c.closed = true
}
