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
	"context"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/treefinder/services/trace/ast"
	"github.com/AleutianAI/treefinder/services/trace/lsp"
	"github.com/bmatcuk/doublestar/v4"
	sitter "github.com/smacker/go-tree-sitter"
)

// DefinitionProvider finds where the symbol at a source position is defined.
//
// line is 1-based, col is a 0-based UTF-16 column. An empty result means the
// provider knows no definition. *lsp.Operations satisfies this interface.
type DefinitionProvider interface {
	Definition(ctx context.Context, path string, line, col int) ([]lsp.Location, error)
}

// Target is a resolved call target: a definition node and its file.
type Target struct {
	Node *sitter.Node
	File *ast.File
}

// Resolution describes one attempt to resolve a call node.
type Resolution struct {
	// Target is set when Resolved is true.
	Target   Target
	Resolved bool

	// Queried is true when the provider was asked. Nodes that are not
	// cross-file calls, or have no name token, are never queried.
	Queried bool

	// Callee is the text of the callee name token.
	Callee string

	// Candidates is the number of locations the provider returned.
	Candidates int

	// Excluded is the number of candidates dropped by exclude globs.
	Excluded int

	// Err is the provider error, if any. A failed query resolves nothing.
	Err error
}

// Resolver maps cross-file call nodes onto the definitions they call.
//
// Description:
//
//	Asks the provider for the definition of the callee name token, then
//	turns each returned location back into a syntax node by parsing the
//	target file through the shared tree cache. A location is accepted only
//	when it maps onto a function or method definition; for `new Foo()` a
//	location on the class maps to its constructor. The first accepted
//	location, in provider order, wins.
//
// Thread Safety:
//
//	Safe for concurrent use if the provider is.
type Resolver struct {
	cache    *ast.TreeCache
	provider DefinitionProvider
	root     string
	exclude  []string
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil provider resolves nothing.
func NewResolver(cache *ast.TreeCache, provider DefinitionProvider, root string, exclude []string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:    cache,
		provider: provider,
		root:     root,
		exclude:  exclude,
		logger:   logger,
	}
}

// Resolve resolves a call node found in file.
func (r *Resolver) Resolve(ctx context.Context, node *sitter.Node, file *ast.File) Resolution {
	var res Resolution
	if ast.Classify(node) != ast.KindCrossFileCall {
		return res
	}
	name := ast.CalleeName(node)
	if name == nil {
		return res
	}
	res.Callee = file.Text(name)
	if r.provider == nil {
		return res
	}

	line, col := tokenPosition(name, file.Content)
	res.Queried = true
	locations, err := r.provider.Definition(ctx, file.Path, line, col)
	if err != nil {
		res.Err = err
		r.logger.Warn("definition lookup failed",
			slog.String("file", file.Path),
			slog.Int("line", line),
			slog.String("callee", res.Callee),
			slog.String("error", err.Error()),
		)
		recordResolve(ctx, "error")
		return res
	}
	res.Candidates = len(locations)

	for _, loc := range locations {
		path := loc.FilePath()
		if r.excluded(path) {
			res.Excluded++
			continue
		}
		target, ok := r.candidate(ctx, node, loc, path)
		if ok {
			res.Target = target
			res.Resolved = true
			recordResolve(ctx, "resolved")
			return res
		}
	}

	r.logger.Debug("call not followed",
		slog.String("file", file.Path),
		slog.Int("line", line),
		slog.String("callee", res.Callee),
		slog.Int("candidates", res.Candidates),
		slog.Int("excluded", res.Excluded),
	)
	recordResolve(ctx, "unresolved")
	return res
}

// candidate maps one provider location onto a definition node.
func (r *Resolver) candidate(ctx context.Context, call *sitter.Node, loc lsp.Location, path string) (Target, bool) {
	file, err := r.cache.Get(ctx, path)
	if err != nil {
		r.logger.Debug("definition file unavailable",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
		return Target{}, false
	}

	start, end := loc.StartLine(), loc.EndLine()
	located := ast.LocateNodeForLineRange(file.Root(), start, end)
	if located == nil {
		return Target{}, false
	}

	if def := ast.DefinitionForRange(located, start, end); def != nil {
		return Target{Node: def, File: file}, true
	}
	if ast.IsObjectCreation(call) {
		if ctor := ast.ConstructorOf(ast.ClassForRange(located, start, end), file.Content); ctor != nil {
			return Target{Node: ctor, File: file}, true
		}
	}
	return Target{}, false
}

// excluded reports whether a definition file matches an exclude glob.
func (r *Resolver) excluded(path string) bool {
	if len(r.exclude) == 0 {
		return false
	}
	abs := filepath.ToSlash(path)
	rel := abs
	if r.root != "" {
		if p, err := filepath.Rel(r.root, path); err == nil {
			rel = filepath.ToSlash(p)
		}
	}
	for _, pattern := range r.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, abs); ok {
			return true
		}
	}
	return false
}

// tokenPosition returns the 1-based line of a name token and a UTF-16
// column one character into it, clear of the preceding `->` or `new`.
func tokenPosition(name *sitter.Node, content []byte) (line, col int) {
	start := name.StartByte()
	lineStart := start - name.StartPoint().Column
	return ast.StartLine(name), lsp.UTF16Len(content[lineStart:start]) + 1
}
