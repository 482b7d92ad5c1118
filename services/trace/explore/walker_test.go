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
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/treefinder/services/trace/ast"
	"github.com/AleutianAI/treefinder/services/trace/lsp"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FIXTURES
// =============================================================================

const appPHP = `<?php
class App {
    public function method1() {
        $h = new Helper();
        $h->method2();
    }
}
`

const helperPHP = `<?php
class Helper {
    public function __construct() {
    }

    public function method2() {
        $a = "TargetClass";
        $b = "TargetClass";
    }
}
`

// fakeProvider answers definition queries by the identifier found at the
// queried position.
type fakeProvider struct {
	defs map[string][]lsp.Location
	errs map[string]error

	mu      sync.Mutex
	queries []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		defs: make(map[string][]lsp.Location),
		errs: make(map[string]error),
	}
}

func (p *fakeProvider) Definition(ctx context.Context, path string, line, col int) ([]lsp.Location, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := identifierAt(string(content), line, col)

	p.mu.Lock()
	p.queries = append(p.queries, name)
	p.mu.Unlock()

	if err := p.errs[name]; err != nil {
		return nil, err
	}
	return p.defs[name], nil
}

func (p *fakeProvider) queried() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

// identifierAt returns the identifier around a 1-based line and a column,
// assuming ASCII source.
func identifierAt(content string, line, col int) string {
	lines := strings.Split(content, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	text := lines[line-1]
	if col > len(text) {
		col = len(text)
	}
	isIdent := func(c byte) bool {
		return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
	}
	start, end := col, col
	for start > 0 && isIdent(text[start-1]) {
		start--
	}
	for end < len(text) && isIdent(text[end]) {
		end++
	}
	return text[start:end]
}

func writePHP(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func parsePHP(t *testing.T, path string) *ast.File {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	file, err := ast.NewPHPParser().Parse(context.Background(), content, path)
	require.NoError(t, err)
	t.Cleanup(file.Close)
	return file
}

func locationOf(path string, node *sitter.Node) lsp.Location {
	return lsp.Location{
		URI: lsp.PathToURI(path),
		Range: lsp.Range{
			Start: lsp.Position{Line: int(node.StartPoint().Row)},
			End:   lsp.Position{Line: int(node.EndPoint().Row)},
		},
	}
}

// defLoc returns the location a language server reports for a definition.
func defLoc(t *testing.T, path, name string) lsp.Location {
	t.Helper()
	file := parsePHP(t, path)
	def := ast.FindDefinition(file.Root(), file.Content, name)
	require.NotNil(t, def, "definition %s in %s", name, path)
	return locationOf(path, def)
}

// classLoc returns the location of the first class declared in path.
func classLoc(t *testing.T, path string) lsp.Location {
	t.Helper()
	file := parsePHP(t, path)
	class := ast.FindChildOfKind(file.Root(), "class_declaration")
	require.NotNil(t, class)
	return locationOf(path, class)
}

func lineRange(path string, start, end int) lsp.Location {
	return lsp.Location{
		URI: lsp.PathToURI(path),
		Range: lsp.Range{
			Start: lsp.Position{Line: start - 1},
			End:   lsp.Position{Line: end - 1},
		},
	}
}

func testFinder(t *testing.T, provider DefinitionProvider, opts ...Option) *Finder {
	t.Helper()
	cache := ast.NewTreeCache(nil)
	t.Cleanup(cache.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFinder(cache, provider, append([]Option{WithLogger(logger)}, opts...)...)
}

// scenario writes the App/Helper fixture and returns its directory.
func scenario(t *testing.T) (dir, app, helper string) {
	t.Helper()
	dir = t.TempDir()
	app = writePHP(t, dir, "App.php", appPHP)
	helper = writePHP(t, dir, "Helper.php", helperPHP)
	return dir, app, helper
}

// assertPathFidelity checks that every frame's call line lies inside the
// function the frame names.
func assertPathFidelity(t *testing.T, root string, result *Result) {
	t.Helper()
	for _, m := range result.Matches {
		for _, frame := range m.Path {
			file := parsePHP(t, filepath.Join(root, frame.File))
			def := ast.FindDefinition(file.Root(), file.Content, frame.Function)
			require.NotNil(t, def, "frame %v", frame)
			assert.Equal(t, ast.StartLine(def), frame.FunctionLine, "frame %v", frame)
			assert.GreaterOrEqual(t, frame.CallLine, ast.StartLine(def), "frame %v", frame)
			assert.LessOrEqual(t, frame.CallLine, ast.EndLine(def), "frame %v", frame)
		}
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestFinder_Search_CrossFileMatches(t *testing.T) {
	dir, app, helper := scenario(t)

	provider := newFakeProvider()
	provider.defs["method2"] = []lsp.Location{defLoc(t, helper, "method2")}
	provider.defs["Helper"] = []lsp.Location{classLoc(t, helper)}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: app,
		Function:  "method1",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	assert.True(t, result.EntryFound)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Matches, 2)

	want := []CallPathFrame{{File: "App.php", Function: "method1", FunctionLine: 3, CallLine: 5}}
	for i, line := range []int{7, 8} {
		m := result.Matches[i]
		assert.Equal(t, "Helper.php", m.File)
		assert.Equal(t, "method2", m.Function)
		assert.Equal(t, 6, m.FunctionLine)
		assert.Equal(t, line, m.MatchLine)
		assert.Equal(t, want, m.Path)
		assert.True(t, strings.HasPrefix(m.FunctionText, "public function method2()"))
	}

	assert.Empty(t, result.Unresolved)
	assert.Equal(t, 2, result.Stats.ResolverRequests)
	assert.Equal(t, 2, result.Stats.Resolved)
	assert.Equal(t, 2, result.Stats.FilesParsed)
	assert.False(t, result.Truncated)
	assert.ElementsMatch(t, []string{"Helper", "method2"}, provider.queried())
	assertPathFidelity(t, dir, result)
}

func TestFinder_Search_EntryOnly(t *testing.T) {
	dir := t.TempDir()
	entry := writePHP(t, dir, "solo.php", `<?php
function solo() {
    return "TargetClass";
}
`)

	result, err := testFinder(t, newFakeProvider()).Search(context.Background(), Query{
		EntryFile: entry,
		Function:  "solo",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	m := result.Matches[0]
	assert.Equal(t, "solo.php", m.File)
	assert.Equal(t, 3, m.MatchLine)
	assert.Equal(t, 2, m.FunctionLine)
	assert.NotNil(t, m.Path)
	assert.Empty(t, m.Path)
	assert.Equal(t, dir, result.Root, "root defaults to the entry file's directory")
}

func TestFinder_Search_EntryNotFound(t *testing.T) {
	dir, app, _ := scenario(t)

	result, err := testFinder(t, newFakeProvider()).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: app,
		Function:  "metod1",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	assert.False(t, result.EntryFound)
	assert.Empty(t, result.Matches)
	assert.Equal(t, []string{"method1"}, result.Suggestions)
	assert.Zero(t, result.Stats.NodesVisited)
}

// =============================================================================
// TRAVERSAL PROPERTIES
// =============================================================================

func TestFinder_Search_SelfRecursion(t *testing.T) {
	dir := t.TempDir()
	entry := writePHP(t, dir, "Loop.php", `<?php
class Loop {
    public function spin($n) {
        // TargetClass
        return $this->spin($n - 1);
    }
}
`)
	provider := newFakeProvider()
	provider.defs["spin"] = []lsp.Location{defLoc(t, entry, "spin")}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		EntryFile: entry,
		Function:  "spin",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	assert.Empty(t, result.Matches[0].Path)
	assert.Equal(t, []string{"spin"}, provider.queried())
	assert.Equal(t, 1, result.Stats.Resolved)
}

func TestFinder_Search_MutualRecursion(t *testing.T) {
	dir := t.TempDir()
	a := writePHP(t, dir, "A.php", `<?php
class A {
    public function ping(B $b) {
        $x = "TargetClass";
        $b->pong($this);
    }
}
`)
	b := writePHP(t, dir, "B.php", `<?php
class B {
    public function pong(A $a) {
        $y = "TargetClass";
        $a->ping($this);
    }
}
`)
	provider := newFakeProvider()
	provider.defs["ping"] = []lsp.Location{defLoc(t, a, "ping")}
	provider.defs["pong"] = []lsp.Location{defLoc(t, b, "pong")}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: a,
		Function:  "ping",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 2)
	assert.Equal(t, "A.php", result.Matches[0].File)
	assert.Empty(t, result.Matches[0].Path)
	assert.Equal(t, "B.php", result.Matches[1].File)
	assert.Equal(t, []CallPathFrame{{File: "A.php", Function: "ping", FunctionLine: 3, CallLine: 5}}, result.Matches[1].Path)

	// Each call site is resolved once; the edge back to ping is not walked again.
	assert.Equal(t, []string{"pong", "ping"}, provider.queried())
	assertPathFidelity(t, dir, result)
}

func TestFinder_Search_PatternCompleteness(t *testing.T) {
	dir := t.TempDir()
	entry := writePHP(t, dir, "run.php", `<?php
function run() {
    log_it("TargetClass");
    log_it("TargetClass");
    notify(strtoupper("TargetClass"));
}
`)

	result, err := testFinder(t, newFakeProvider()).Search(context.Background(), Query{
		EntryFile: entry,
		Function:  "run",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 3)
	for i, line := range []int{3, 4, 5} {
		assert.Equal(t, line, result.Matches[i].MatchLine)
		assert.Equal(t, "run", result.Matches[i].Function)
		assert.Equal(t, 2, result.Matches[i].FunctionLine)
	}
}

func TestFinder_Search_SiblingPathsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	entry := writePHP(t, dir, "App.php", `<?php
class App {
    public function run(A $a, B $b) {
        $a->alpha();
        $b->beta();
    }
}
`)
	a := writePHP(t, dir, "lib/A.php", `<?php
class A {
    public function alpha() {
        return "TargetClass";
    }
}
`)
	b := writePHP(t, dir, "lib/B.php", `<?php
class B {
    public function beta() {
        return "TargetClass";
    }
}
`)
	provider := newFakeProvider()
	provider.defs["alpha"] = []lsp.Location{defLoc(t, a, "alpha")}
	provider.defs["beta"] = []lsp.Location{defLoc(t, b, "beta")}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: entry,
		Function:  "run",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)

	assert.Equal(t, filepath.Join("lib", "A.php"), result.Matches[0].File)
	assert.Equal(t, 4, result.Matches[0].Path[0].CallLine)
	assert.Equal(t, filepath.Join("lib", "B.php"), result.Matches[1].File)
	assert.Equal(t, 5, result.Matches[1].Path[0].CallLine)

	result.Matches[0].Path[0].CallLine = 99
	assert.Equal(t, 5, result.Matches[1].Path[0].CallLine)
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestFinder_Search_ResolutionFallback(t *testing.T) {
	tests := []struct {
		name       string
		method2    func(helper string) []lsp.Location
		err        error
		opts       []Option
		wantErrors int
		excluded   int
	}{
		{
			name:    "no candidates",
			method2: func(string) []lsp.Location { return nil },
		},
		{
			name: "range covered by no node",
			method2: func(helper string) []lsp.Location {
				return []lsp.Location{lineRange(helper, 500, 510)}
			},
		},
		{
			name: "range inside a function body",
			method2: func(helper string) []lsp.Location {
				return []lsp.Location{lineRange(helper, 7, 7)}
			},
		},
		{
			name: "range on a class",
			method2: func(helper string) []lsp.Location {
				return []lsp.Location{lineRange(helper, 2, 10)}
			},
		},
		{
			name:       "provider error",
			err:        errors.New("server crashed"),
			wantErrors: 1,
		},
		{
			name: "excluded definition file",
			method2: func(helper string) []lsp.Location {
				return []lsp.Location{lineRange(helper, 6, 9)}
			},
			opts:     []Option{WithExclude("Helper.php")},
			excluded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, app, helper := scenario(t)
			provider := newFakeProvider()
			if tt.method2 != nil {
				provider.defs["method2"] = tt.method2(helper)
			}
			if tt.err != nil {
				provider.errs["method2"] = tt.err
			}

			result, err := testFinder(t, provider, tt.opts...).Search(context.Background(), Query{
				Root:      dir,
				EntryFile: app,
				Function:  "method1",
				Pattern:   "TargetClass",
			})
			require.NoError(t, err)

			assert.Empty(t, result.Matches)
			assert.Equal(t, []string{"Helper", "method2"}, result.Unresolved)
			assert.Equal(t, 2, result.Stats.ResolverRequests)
			assert.Zero(t, result.Stats.Resolved)
			assert.Equal(t, tt.wantErrors, result.Stats.ResolverErrors)
			assert.Equal(t, tt.excluded, result.Stats.Excluded)
		})
	}
}

func TestFinder_Search_FirstUsableCandidateWins(t *testing.T) {
	dir, app, helper := scenario(t)
	provider := newFakeProvider()
	provider.defs["method2"] = []lsp.Location{
		lineRange(helper, 500, 510),
		lineRange(helper, 8, 8),
		defLoc(t, helper, "method2"),
		defLoc(t, helper, "__construct"),
	}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: app,
		Function:  "method1",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 2)
	assert.Equal(t, "method2", result.Matches[0].Function)
	assert.Equal(t, []string{"Helper"}, result.Unresolved)
}

func TestFinder_Search_ConstructorResolution(t *testing.T) {
	dir, app, helper := scenario(t)
	provider := newFakeProvider()
	provider.defs["Helper"] = []lsp.Location{classLoc(t, helper)}

	result, err := testFinder(t, provider).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: app,
		Function:  "method1",
		Pattern:   `__construct`,
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	m := result.Matches[0]
	assert.Equal(t, "Helper.php", m.File)
	assert.Equal(t, "__construct", m.Function)
	assert.Equal(t, 3, m.MatchLine)
	assert.Equal(t, []CallPathFrame{{File: "App.php", Function: "method1", FunctionLine: 3, CallLine: 4}}, m.Path)
	assert.Equal(t, []string{"method2"}, result.Unresolved)
}

func TestFinder_Search_NoProvider(t *testing.T) {
	dir, app, _ := scenario(t)

	result, err := testFinder(t, nil).Search(context.Background(), Query{
		Root:      dir,
		EntryFile: app,
		Function:  "method1",
		Pattern:   "TargetClass",
	})
	require.NoError(t, err)

	assert.Empty(t, result.Matches)
	assert.Equal(t, []string{"Helper", "method2"}, result.Unresolved)
	assert.Zero(t, result.Stats.ResolverRequests)
}

// =============================================================================
// LIMITS AND ERRORS
// =============================================================================

const chainA = `<?php
class A {
    public function first(B $b) {
        $b->second();
    }
}
`

const chainB = `<?php
class B {
    public function second() {
        $marker = "TargetClass";
        $this->third();
    }

    public function third() {
        $marker = "TargetClass";
    }
}
`

func TestFinder_Search_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	a := writePHP(t, dir, "A.php", chainA)
	b := writePHP(t, dir, "B.php", chainB)
	provider := newFakeProvider()
	provider.defs["second"] = []lsp.Location{defLoc(t, b, "second")}
	provider.defs["third"] = []lsp.Location{defLoc(t, b, "third")}

	query := Query{Root: dir, EntryFile: a, Function: "first", Pattern: "TargetClass"}

	t.Run("unlimited", func(t *testing.T) {
		result, err := testFinder(t, provider).Search(context.Background(), query)
		require.NoError(t, err)
		require.Len(t, result.Matches, 2)
		assert.Equal(t, 9, result.Matches[1].MatchLine)
		assert.Equal(t, []CallPathFrame{
			{File: "A.php", Function: "first", FunctionLine: 3, CallLine: 4},
			{File: "B.php", Function: "second", FunctionLine: 3, CallLine: 5},
		}, result.Matches[1].Path)
		assert.False(t, result.Truncated)
		assertPathFidelity(t, dir, result)
	})

	t.Run("one hop", func(t *testing.T) {
		result, err := testFinder(t, provider, WithMaxDepth(1)).Search(context.Background(), query)
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, 4, result.Matches[0].MatchLine)
		assert.True(t, result.Truncated)
		assert.Empty(t, result.Unresolved)
	})
}

func TestFinder_Search_MaxMatches(t *testing.T) {
	dir, app, helper := scenario(t)
	provider := newFakeProvider()
	provider.defs["method2"] = []lsp.Location{defLoc(t, helper, "method2")}
	query := Query{Root: dir, EntryFile: app, Function: "method1", Pattern: "TargetClass"}

	result, err := testFinder(t, provider, WithMaxMatches(1)).Search(context.Background(), query)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
	assert.True(t, result.Truncated)

	result, err = testFinder(t, provider, WithMaxMatches(2)).Search(context.Background(), query)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 2)
	assert.False(t, result.Truncated)
}

func TestFinder_Search_InvalidInput(t *testing.T) {
	dir, app, _ := scenario(t)

	tests := []struct {
		name  string
		query Query
		opts  []Option
		want  error
	}{
		{"missing file", Query{Function: "f", Pattern: "x"}, nil, ErrInvalidInput},
		{"missing function", Query{EntryFile: app, Pattern: "x"}, nil, ErrInvalidInput},
		{"missing pattern", Query{EntryFile: app, Function: "f"}, nil, ErrInvalidInput},
		{"bad pattern", Query{EntryFile: app, Function: "f", Pattern: "("}, nil, ErrInvalidPattern},
		{"bad exclude", Query{EntryFile: app, Function: "f", Pattern: "x"}, []Option{WithExclude("[")}, ErrInvalidExclude},
		{"unreadable entry", Query{EntryFile: filepath.Join(dir, "gone.php"), Function: "f", Pattern: "x"}, nil, ErrEntryFile},
		{"unsupported entry", Query{EntryFile: writePHP(t, dir, "notes.txt", "x"), Function: "f", Pattern: "x"}, nil, ErrEntryFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testFinder(t, nil, tt.opts...).Search(context.Background(), tt.query)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("nil context", func(t *testing.T) {
		_, err := testFinder(t, nil).Search(nil, Query{EntryFile: app, Function: "method1", Pattern: "x"}) //nolint:staticcheck
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestFinder_Search_Cancelled(t *testing.T) {
	dir, app, _ := scenario(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := testFinder(t, newFakeProvider()).Search(ctx, Query{
		Root:      dir,
		EntryFile: app,
		Function:  "method1",
		Pattern:   "TargetClass",
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Matches)
}

func TestNewFinder_Options(t *testing.T) {
	f := NewFinder(nil, nil, WithMaxDepth(3), WithMaxMatches(-1), WithExclude("vendor/**"), WithExclude("tests/**"))
	opts := f.Options()
	assert.Equal(t, 3, opts.MaxDepth)
	assert.Zero(t, opts.MaxMatches)
	assert.Equal(t, []string{"vendor/**", "tests/**"}, opts.Exclude)
	assert.NotNil(t, f.cache)
}
