// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast provides tree-sitter parsing and syntax tree access for the
// call-graph walker.
//
// Parsers turn source bytes into a File that owns the tree-sitter tree. The
// TreeCache guarantees each file is parsed at most once per search so node
// identity stays stable across repeated lookups. The accessor functions in
// accessor.go classify nodes and translate between tree positions and line
// numbers.
package ast

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser defines the interface for language-specific parsers.
type Parser interface {
	// Parse builds a syntax tree from source code.
	//
	// Parameters:
	//   - ctx: Context for cancellation. Checked before and after parsing.
	//   - content: Raw source code bytes (must be valid UTF-8).
	//   - filePath: Path to the file, used for error reporting.
	//
	// Returns:
	//   - *File: The parsed file. Never nil on success. The caller owns
	//     the tree and must call File.Close when done.
	//   - error: Non-nil only for complete parse failures. Syntax errors
	//     are reported via File.HasErrors.
	//
	// Thread Safety:
	//   Implementations should be safe for concurrent use.
	Parse(ctx context.Context, content []byte, filePath string) (*File, error)

	// Language returns the canonical lowercase name of the language.
	Language() string

	// Extensions returns the file extensions this parser can handle,
	// including the leading dot.
	Extensions() []string
}

// File is a parsed source file.
//
// The tree-sitter tree is owned by the File. Nodes obtained from Root remain
// valid until Close is called.
type File struct {
	// Path is the path the file was parsed from.
	Path string

	// Language is the parser language.
	Language string

	// Content is the raw source.
	Content []byte

	// Hash is the hex sha256 of Content.
	Hash string

	// HasErrors reports whether tree-sitter found syntax errors.
	HasErrors bool

	tree *sitter.Tree
}

// Root returns the root node of the tree.
func (f *File) Root() *sitter.Node {
	if f == nil || f.tree == nil {
		return nil
	}
	return f.tree.RootNode()
}

// Text returns the source text of a node.
func (f *File) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Content(f.Content)
}

// Close releases the tree-sitter tree.
func (f *File) Close() {
	if f != nil && f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// ParserRegistry manages parsers by language and extension.
//
// Thread Safety:
//
//	ParserRegistry is safe for concurrent use.
type ParserRegistry struct {
	mu sync.RWMutex

	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// DefaultRegistry returns a registry with the PHP parser registered.
func DefaultRegistry() *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewPHPParser())
	return r
}

// Register adds a parser. Later registrations replace earlier ones for the
// same language or extension.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[strings.ToLower(ext)] = parser
	}
}

// GetByLanguage returns the parser for a language.
func (r *ParserRegistry) GetByLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byLanguage[language]
	return parser, ok
}

// GetByExtension returns the parser for a file extension such as ".php".
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byExtension[strings.ToLower(ext)]
	return parser, ok
}
