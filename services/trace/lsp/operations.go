// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Operations provides the high-level LSP operations the search needs.
//
// Description:
//
//	Picks the server from the file extension, opens each document with the
//	server once before querying it, applies the request timeout and rate
//	limit from the manager config, and retries once on transient server
//	failures.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Operations struct {
	manager *Manager
	limiter *rate.Limiter

	openMu sync.Mutex
	opened map[*Server]map[string]struct{}
}

// NewOperations creates an Operations instance over manager.
func NewOperations(manager *Manager) *Operations {
	ops := &Operations{
		manager: manager,
		opened:  make(map[*Server]map[string]struct{}),
	}
	if rps := manager.Config().RequestsPerSecond; rps > 0 {
		ops.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return ops
}

// Manager returns the underlying manager.
func (o *Operations) Manager() *Manager {
	return o.manager
}

// =============================================================================
// RETRY CONFIGURATION
// =============================================================================

const (
	// maxRetries is the maximum number of retry attempts for transient failures.
	maxRetries = 1

	// retryDelay is the delay between retry attempts.
	retryDelay = 100 * time.Millisecond
)

// isRetryableError returns true if the error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}
	var lspErr *LSPError
	if errors.As(err, &lspErr) {
		return lspErr.IsServerError()
	}
	return false
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// languageFromPath determines the language from a file path.
func (o *Operations) languageFromPath(path string) string {
	lang, ok := o.manager.Configs().LanguageForExtension(filepath.Ext(path))
	if !ok {
		return ""
	}
	return lang
}

// PathToURI converts a file path to a file:// URI, making it absolute first
// and percent-encoding reserved characters.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	u := &url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(path),
	}
	return u.String()
}

// URIToPath converts a file:// URI to a local path.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return filepath.FromSlash(strings.TrimPrefix(uri, "file://"))
}

// UTF16Len returns the number of UTF-16 code units in b, the unit LSP
// positions count characters in. Invalid bytes count as one unit each.
func UTF16Len(b []byte) int {
	n := 0
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// parseLocationResponse parses a definition result: null, a Location, a
// Location array or a LocationLink array. Links are reduced to their full
// target range.
func parseLocationResponse(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	if data[0] == '[' {
		var links []LocationLink
		if err := json.Unmarshal(data, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
			locations := make([]Location, len(links))
			for i, link := range links {
				locations[i] = Location{URI: link.TargetURI, Range: link.TargetRange}
			}
			return locations, nil
		}

		var locations []Location
		if err := json.Unmarshal(data, &locations); err == nil {
			return locations, nil
		}
		return nil, ErrInvalidResponse
	}

	var single Location
	if err := json.Unmarshal(data, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}

	var link LocationLink
	if err := json.Unmarshal(data, &link); err == nil && link.TargetURI != "" {
		return []Location{{URI: link.TargetURI, Range: link.TargetRange}}, nil
	}

	return nil, ErrInvalidResponse
}

// requestWithRetry performs an LSP request, retrying once on transient
// failures. A retry asks the manager again, which replaces a dead server.
func (o *Operations) requestWithRetry(
	ctx context.Context,
	language string,
	requestFn func(server *Server) (*Response, error),
) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			recordRetry(ctx, language)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		server, err := o.manager.GetOrSpawn(ctx, language)
		if err != nil {
			return nil, err
		}

		resp, err := requestFn(server)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		slog.Debug("Retrying LSP request after transient error",
			slog.String("language", language),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// =============================================================================
// DEFINITION OPERATION
// =============================================================================

// Definition returns the definition location(s) for the symbol at a
// position.
//
// Inputs:
//
//	ctx - Context for cancellation
//	filePath - Path to the file containing the reference
//	line - 1-indexed line number
//	col - 0-indexed UTF-16 column
//
// Outputs:
//
//	[]Location - Definition location(s), empty when the server knows none
//	error - Non-nil on failure
//
// Errors:
//
//	ErrUnsupportedLanguage - No LSP configuration for file extension
//	ErrServerNotInstalled - Server binary not found (remembered)
//	ErrRequestTimeout - Request exceeded the configured timeout
func (o *Operations) Definition(ctx context.Context, filePath string, line, col int) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	language := o.languageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: no language for %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	ctx, span := startOperationSpan(ctx, "Definition", language, filePath)
	defer span.End()
	start := time.Now()

	fail := func(err error) ([]Location, error) {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "definition", language, time.Since(start), 0, false)
		return nil, err
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(filePath)},
		Position:     Position{Line: line - 1, Character: col},
	}

	resp, err := o.requestWithRetry(ctx, language, func(server *Server) (*Response, error) {
		if err := o.ensureOpen(server, filePath, language); err != nil {
			return nil, err
		}
		reqCtx := ctx
		if timeout := o.manager.Config().RequestTimeout; timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return server.Request(reqCtx, "textDocument/definition", params)
	})
	if err != nil {
		return fail(fmt.Errorf("definition request: %w", err))
	}

	locations, err := parseLocationResponse(resp.Result)
	if err != nil {
		return fail(err)
	}

	setOperationSpanResult(span, len(locations), true)
	recordOperationMetrics(ctx, "definition", language, time.Since(start), len(locations), true)
	return locations, nil
}

// ensureOpen sends textDocument/didOpen for filePath the first time this
// server is asked about it.
func (o *Operations) ensureOpen(server *Server, filePath, language string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolve path %s: %w", filePath, err)
	}

	o.openMu.Lock()
	defer o.openMu.Unlock()

	docs := o.opened[server]
	if docs == nil {
		docs = make(map[string]struct{})
		o.opened[server] = docs
	}
	if _, ok := docs[abs]; ok {
		return nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", abs, err)
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        PathToURI(abs),
			LanguageID: language,
			Version:    1,
			Text:       string(content),
		},
	}
	if err := server.Notify("textDocument/didOpen", params); err != nil {
		return err
	}
	docs[abs] = struct{}{}
	return nil
}

// IsAvailable reports whether LSP operations are possible for the file's
// language.
func (o *Operations) IsAvailable(filePath string) bool {
	language := o.languageFromPath(filePath)
	if language == "" {
		return false
	}
	return o.manager.IsAvailable(language)
}
