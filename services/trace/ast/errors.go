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
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no parser is available for the
	// file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates that tree-sitter could not produce a tree.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates that the content cannot be processed.
	//
	// Common causes:
	//   - Non-UTF-8 encoding
	//   - Binary file content
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge is returned when input content exceeds the maximum file size.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrCacheClosed is returned by a TreeCache after Close.
	ErrCacheClosed = errors.New("tree cache closed")
)

// ParseError provides detailed information about a parse failure.
//
// ParseError wraps an underlying error with the file it concerns. It can be
// unwrapped to access the underlying cause.
//
// Example:
//
//	file, err := parser.Parse(ctx, content, "src/Service.php")
//	if err != nil {
//	    var parseErr *ParseError
//	    if errors.As(err, &parseErr) {
//	        fmt.Printf("Error at %s: %s\n", parseErr.FilePath, parseErr.Message)
//	    }
//	}
type ParseError struct {
	// FilePath is the path to the file where the error occurred.
	FilePath string

	// Line is the 1-indexed line number where the error occurred.
	// May be 0 if the error is not associated with a specific line.
	Line int

	// Message describes the error in human-readable form.
	Message string

	// Cause is the underlying error. May be nil.
	Cause error
}

// Error returns a formatted error message including file location.
//
// Format depends on available location information:
//   - With line:        "file.php:10: unexpected token"
//   - Without location: "file.php: unexpected token"
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapParseError wraps an error with file context.
//
// If the error is already a ParseError, it returns it unchanged.
// Returns nil if err is nil.
func WrapParseError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return err
	}

	return &ParseError{
		FilePath: filePath,
		Message:  err.Error(),
		Cause:    err,
	}
}
