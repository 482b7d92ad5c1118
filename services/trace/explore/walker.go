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
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/treefinder/services/trace/ast"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
)

// Finder runs call-graph pattern searches.
//
// Thread Safety:
//
//	Finder is safe for concurrent use. Each Search owns its own traversal
//	state; only the tree cache and the provider are shared.
type Finder struct {
	cache    *ast.TreeCache
	provider DefinitionProvider
	options  FinderOptions
}

// NewFinder creates a Finder.
//
// Inputs:
//
//	cache - Parsed-file cache. Nil creates a private cache.
//	provider - Definition lookups for cross-file calls. Nil disables them,
//	           which limits the search to what the entry function reaches
//	           through its own syntax tree.
//	opts - Optional configuration.
//
// Example:
//
//	finder := NewFinder(cache, lsp.NewOperations(mgr), WithMaxDepth(5))
func NewFinder(cache *ast.TreeCache, provider DefinitionProvider, opts ...Option) *Finder {
	if cache == nil {
		cache = ast.NewTreeCache(nil)
	}
	options := DefaultFinderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Finder{
		cache:    cache,
		provider: provider,
		options:  options,
	}
}

// Options returns the finder's configuration.
func (f *Finder) Options() FinderOptions {
	return f.options
}

// Search finds every occurrence of q.Pattern reachable from q.Function.
//
// Description:
//
//	Parses the entry file, locates the entry definition and walks its
//	syntax tree depth-first. Function bodies and call expressions are
//	matched against the pattern. Method calls and object construction are
//	resolved through the provider and the resolved definition is walked in
//	turn, with the call site appended to the path of every match found
//	beneath it. Each (file, node) pair is walked once, so every call cycle
//	terminates and shared callees are reported under the first path that
//	reached them.
//
// Outputs:
//
//	*Result - Always non-nil once the query is valid. A missing entry
//	          function yields EntryFound=false and no error.
//	error - ErrInvalidInput, ErrInvalidPattern, ErrInvalidExclude,
//	        ErrEntryFile, or the context error. On cancellation the result
//	        holds what was found so far.
//
// Limitations:
//
//	Resolution failures never fail the search; the callee name is reported
//	in Result.Unresolved instead.
func (f *Finder) Search(ctx context.Context, q Query) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m, err := newMatcher(q.Pattern)
	if err != nil {
		return nil, err
	}
	for _, glob := range f.options.Exclude {
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidExclude, glob)
		}
	}

	entryPath, err := filepath.Abs(q.EntryFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntryFile, err)
	}
	root := q.Root
	if root == "" {
		root = filepath.Dir(entryPath)
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrInvalidInput, err)
	}

	logger := f.options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result := &Result{
		RunID:      uuid.NewString(),
		Root:       root,
		EntryFile:  relativeTo(root, entryPath),
		Function:   q.Function,
		Pattern:    q.Pattern,
		Matches:    []MatchRecord{},
		Unresolved: []string{},
	}
	logger = logger.With(slog.String("run_id", result.RunID))

	ctx, span := startSearchSpan(ctx, q)
	defer span.End()
	start := time.Now()
	parsedBefore := f.cache.Len()

	err = f.search(ctx, q, entryPath, m, result, logger)

	result.Stats.FilesParsed = f.cache.Len() - parsedBefore
	setSearchSpanResult(span, result, err)
	recordSearchMetrics(ctx, time.Since(start), result, err)
	logger.Debug("search finished",
		slog.Bool("entry_found", result.EntryFound),
		slog.Int("matches", len(result.Matches)),
		slog.Int("unresolved", len(result.Unresolved)),
		slog.Int("nodes_visited", result.Stats.NodesVisited),
		slog.Duration("duration", time.Since(start)),
	)
	return result, err
}

func (f *Finder) search(ctx context.Context, q Query, entryPath string, m *matcher, result *Result, logger *slog.Logger) error {
	file, err := f.cache.Get(ctx, entryPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrEntryFile, err)
	}

	entry := ast.FindDefinition(file.Root(), file.Content, q.Function)
	if entry == nil {
		result.Suggestions = suggest(q.Function, ast.DefinitionNames(file.Root(), file.Content))
		logger.Info("entry function not found",
			slog.String("file", entryPath),
			slog.String("function", q.Function),
			slog.Any("suggestions", result.Suggestions),
		)
		return nil
	}
	result.EntryFound = true

	s := &session{
		options:    f.options,
		resolver:   NewResolver(f.cache, f.provider, result.Root, f.options.Exclude, logger),
		matcher:    m,
		result:     result,
		visited:    make(map[visitKey]struct{}),
		reported:   make(map[matchKey]struct{}),
		unresolved: make(map[string]struct{}),
	}
	err = s.run(ctx, file, entry)
	result.Unresolved = s.unresolvedNames()
	return err
}

// =============================================================================
// SESSION
// =============================================================================

type visitKey struct {
	file string
	node ast.NodeKey
}

type matchKey struct {
	file   string
	offset uint32
}

// workItem is a node waiting to be visited with the context it was
// reached in.
type workItem struct {
	node      *sitter.Node
	file      *ast.File
	enclosing *sitter.Node
	path      []CallPathFrame
}

// session holds the state of one search.
type session struct {
	options  FinderOptions
	resolver *Resolver
	matcher  *matcher
	result   *Result

	visited    map[visitKey]struct{}
	reported   map[matchKey]struct{}
	unresolved map[string]struct{}
}

// run walks from the entry definition until the stack is empty, the match
// limit is hit or ctx ends.
func (s *session) run(ctx context.Context, file *ast.File, entry *sitter.Node) error {
	stack := []workItem{{node: entry, file: file, enclosing: entry}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := visitKey{file: item.file.Path, node: ast.KeyOf(item.node)}
		if _, seen := s.visited[key]; seen {
			continue
		}
		s.visited[key] = struct{}{}
		s.result.Stats.NodesVisited++

		if s.result.Stats.NodesVisited%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var next *workItem
		switch ast.Classify(item.node) {
		case ast.KindDefinition, ast.KindPlainCall:
			if s.collect(item) {
				s.result.Truncated = true
				return nil
			}
		case ast.KindCrossFileCall:
			next = s.follow(ctx, item)
		}

		for i := int(item.node.NamedChildCount()) - 1; i >= 0; i-- {
			child := item.node.NamedChild(i)
			if child == nil {
				continue
			}
			stack = append(stack, workItem{
				node:      child,
				file:      item.file,
				enclosing: item.enclosing,
				path:      item.path,
			})
		}
		if next != nil {
			stack = append(stack, *next)
		}
	}
	return ctx.Err()
}

// collect records the pattern matches in a node's text. It returns true
// when a match was found beyond the match limit.
func (s *session) collect(item workItem) bool {
	text := item.file.Text(item.node)
	occurrences := s.matcher.find(text, ast.StartLine(item.node))
	if len(occurrences) == 0 {
		return false
	}

	file := relativeTo(s.result.Root, item.file.Path)
	function := ast.ExtractName(item.node, item.file.Content)
	for _, occ := range occurrences {
		key := matchKey{file: item.file.Path, offset: item.node.StartByte() + uint32(occ.Offset)}
		if _, dup := s.reported[key]; dup {
			continue
		}
		if limit := s.options.MaxMatches; limit > 0 && len(s.result.Matches) >= limit {
			return true
		}
		s.reported[key] = struct{}{}

		s.result.Matches = append(s.result.Matches, MatchRecord{
			File:         file,
			Function:     function,
			FunctionText: text,
			FunctionLine: ast.StartLine(item.node),
			MatchLine:    occ.Line,
			Path:         clonePath(item.path, 0),
		})
	}
	return false
}

// follow resolves a cross-file call and returns the target to visit with
// the extended path, or nil.
func (s *session) follow(ctx context.Context, item workItem) *workItem {
	if limit := s.options.MaxDepth; limit > 0 && len(item.path) >= limit {
		s.result.Truncated = true
		return nil
	}

	res := s.resolver.Resolve(ctx, item.node, item.file)
	stats := &s.result.Stats
	if res.Queried {
		stats.ResolverRequests++
	}
	if res.Err != nil {
		stats.ResolverErrors++
	}
	stats.Excluded += res.Excluded

	if !res.Resolved {
		if res.Callee != "" {
			s.unresolved[res.Callee] = struct{}{}
		}
		return nil
	}
	stats.Resolved++

	path := clonePath(item.path, 1)
	path = append(path, CallPathFrame{
		File:         relativeTo(s.result.Root, item.file.Path),
		Function:     ast.ExtractName(item.enclosing, item.file.Content),
		FunctionLine: ast.StartLine(item.enclosing),
		CallLine:     ast.StartLine(item.node),
	})
	return &workItem{
		node:      res.Target.Node,
		file:      res.Target.File,
		enclosing: res.Target.Node,
		path:      path,
	}
}

func (s *session) unresolvedNames() []string {
	names := make([]string, 0, len(s.unresolved))
	for name := range s.unresolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clonePath copies path into a new slice with room for extra frames.
func clonePath(path []CallPathFrame, extra int) []CallPathFrame {
	out := make([]CallPathFrame, len(path), len(path)+extra)
	copy(out, path)
	return out
}

// relativeTo returns path relative to root, or path itself when it lies
// outside root.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
