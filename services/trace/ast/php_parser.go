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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// File size constants for input validation.
const (
	// DefaultMaxFileSize is the maximum file size the parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold at which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// PHPParserOption configures a PHPParser instance.
type PHPParserOption func(*PHPParser)

// WithMaxFileSize sets the maximum file size the parser will accept.
//
// Example:
//
//	parser := NewPHPParser(WithMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithMaxFileSize(bytes int64) PHPParserOption {
	return func(p *PHPParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PHPParser implements the Parser interface for PHP source code.
//
// Description:
//
//	PHPParser uses tree-sitter to parse PHP source files. Each Parse call
//	creates its own tree-sitter parser instance internally.
//
// Thread Safety:
//
//	PHPParser instances are safe for concurrent use.
type PHPParser struct {
	maxFileSize int64
}

// NewPHPParser creates a new PHPParser with the given options.
func NewPHPParser(opts ...PHPParserOption) *PHPParser {
	p := &PHPParser{
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse builds the syntax tree for PHP source code.
//
// Description:
//
//	The parser is error-tolerant: syntactically invalid code still yields a
//	tree, with File.HasErrors set.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw PHP source bytes. Must be valid UTF-8.
//   - filePath: Path to the file (for error reporting).
//
// Outputs:
//   - *File: The parsed file. The caller must Close it.
//   - error: Non-nil for complete failures:
//   - ErrFileTooLarge: Content exceeds maxFileSize
//   - ErrInvalidContent: Content is not valid UTF-8
//   - Context errors: Context was canceled or timed out
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *PHPParser) Parse(ctx context.Context, content []byte, filePath string) (*File, error) {
	ctx, span := startParseSpan(ctx, "php", filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(php.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	if err := ctx.Err(); err != nil {
		tree.Close()
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		tree.Close()
		recordParseMetrics(ctx, "php", time.Since(start), false)
		return nil, fmt.Errorf("%w: tree-sitter returned nil root node", ErrParseFailed)
	}

	file := &File{
		Path:      filePath,
		Language:  "php",
		Content:   content,
		Hash:      hex.EncodeToString(hash[:]),
		HasErrors: root.HasError(),
		tree:      tree,
	}

	if file.HasErrors {
		slog.Debug("source contains syntax errors", slog.String("file", filePath))
	}

	setParseSpanResult(span, root.ChildCount(), file.HasErrors)
	recordParseMetrics(ctx, "php", time.Since(start), true)

	return file, nil
}

// Language returns "php".
func (p *PHPParser) Language() string {
	return "php"
}

// Extensions returns the file extensions this parser handles.
func (p *PHPParser) Extensions() []string {
	return []string{".php", ".phtml", ".inc"}
}
