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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPHPParser_Parse(t *testing.T) {
	parser := NewPHPParser()

	t.Run("valid source", func(t *testing.T) {
		file, err := parser.Parse(context.Background(), []byte("<?php\nfunction a() {}\n"), "a.php")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "php", file.Language)
		assert.Len(t, file.Hash, 64)
		assert.False(t, file.HasErrors)
		require.NotNil(t, file.Root())
		assert.Equal(t, "program", file.Root().Type())
	})

	t.Run("syntax errors still parse", func(t *testing.T) {
		file, err := parser.Parse(context.Background(), []byte("<?php\nfunction a( {\n"), "broken.php")
		require.NoError(t, err)
		defer file.Close()
		assert.True(t, file.HasErrors)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := parser.Parse(context.Background(), []byte{'<', '?', 0xff, 0xfe}, "bin.php")
		assert.ErrorIs(t, err, ErrInvalidContent)
	})

	t.Run("too large", func(t *testing.T) {
		small := NewPHPParser(WithMaxFileSize(8))
		_, err := small.Parse(context.Background(), []byte("<?php echo 1; ?>"), "big.php")
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := parser.Parse(ctx, []byte("<?php\n"), "a.php")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed file has no root", func(t *testing.T) {
		file, err := parser.Parse(context.Background(), []byte("<?php\n"), "a.php")
		require.NoError(t, err)
		file.Close()
		assert.Nil(t, file.Root())
		file.Close()
	})
}

func TestParserRegistry(t *testing.T) {
	r := DefaultRegistry()

	p, ok := r.GetByExtension(".php")
	require.True(t, ok)
	assert.Equal(t, "php", p.Language())

	_, ok = r.GetByExtension(".PHP")
	assert.True(t, ok, "extension lookup is case-insensitive")

	_, ok = r.GetByLanguage("php")
	assert.True(t, ok)

	_, ok = r.GetByExtension(".go")
	assert.False(t, ok)

	r.Register(nil)
}

func TestTreeCache_Get(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.php", "<?php\nfunction a() {}\n")

	cache := NewTreeCache(nil)
	defer cache.Close()

	first, err := cache.Get(context.Background(), path)
	require.NoError(t, err)

	second, err := cache.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Same(t, first, second, "file is parsed once")

	rel, err := filepath.Rel(mustGetwd(t), path)
	if err == nil && !strings.HasPrefix(rel, "..") {
		third, err := cache.Get(context.Background(), rel)
		require.NoError(t, err)
		assert.Same(t, first, third, "relative and absolute paths share an entry")
	}

	assert.Equal(t, 1, cache.Len())
}

func TestTreeCache_Errors(t *testing.T) {
	dir := t.TempDir()

	cache := NewTreeCache(DefaultRegistry())
	defer cache.Close()

	t.Run("missing file", func(t *testing.T) {
		_, err := cache.Get(context.Background(), filepath.Join(dir, "missing.php"))
		require.Error(t, err)

		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, dir, "notes.txt", "hello")
		_, err := cache.Get(context.Background(), path)
		assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	})

	t.Run("failures are cached", func(t *testing.T) {
		path := filepath.Join(dir, "late.php")
		_, err := cache.Get(context.Background(), path)
		require.Error(t, err)

		writeFile(t, dir, "late.php", "<?php\n")
		_, err = cache.Get(context.Background(), path)
		assert.Error(t, err)
	})
}

func TestTreeCache_Close(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.php", "<?php\n")

	cache := NewTreeCache(nil)
	file, err := cache.Get(context.Background(), path)
	require.NoError(t, err)

	cache.Close()
	assert.Nil(t, file.Root())

	_, err = cache.Get(context.Background(), path)
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestWrapParseError(t *testing.T) {
	assert.Nil(t, WrapParseError(nil, "a.php"))

	base := errors.New("boom")
	wrapped := WrapParseError(base, "a.php")
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "a.php: boom", wrapped.Error())

	assert.Same(t, wrapped, WrapParseError(wrapped, "b.php"))

	withLine := &ParseError{FilePath: "a.php", Line: 3, Message: "bad"}
	assert.Equal(t, "a.php:3: bad", withLine.Error())
}

func mustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}
