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
	"strings"
	"sync"
)

// LanguageConfig contains configuration for an LSP server.
type LanguageConfig struct {
	// Language is the language identifier sent as languageId in didOpen.
	Language string

	// Command is the executable name or path.
	Command string

	// Args are command-line arguments to pass to the server.
	Args []string

	// Extensions are file extensions this server handles (e.g., ".php").
	Extensions []string

	// InitializationOptions are custom options passed during initialize.
	InitializationOptions interface{}

	// ReadyNotification is a server notification that signals the workspace
	// index is complete. Empty means the server is usable right after the
	// handshake.
	ReadyNotification string
}

// PHPConfig returns the default PHP configuration: intelephense over stdio.
func PHPConfig() LanguageConfig {
	return LanguageConfig{
		Language:          "php",
		Command:           "intelephense",
		Args:              []string{"--stdio"},
		Extensions:        []string{".php", ".phtml", ".inc"},
		ReadyNotification: "indexingEnded",
	}
}

// ConfigRegistry manages LSP configurations for different languages.
//
// Thread Safety: Safe for concurrent use.
type ConfigRegistry struct {
	mu         sync.RWMutex
	byLanguage map[string]LanguageConfig
	byExt      map[string]string // extension -> language
}

// NewConfigRegistry creates a registry holding PHPConfig.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{
		byLanguage: make(map[string]LanguageConfig),
		byExt:      make(map[string]string),
	}
	r.Register(PHPConfig())
	return r
}

// Register adds or replaces the configuration for config.Language.
func (r *ConfigRegistry) Register(config LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byLanguage[config.Language]; ok {
		for _, ext := range old.Extensions {
			delete(r.byExt, strings.ToLower(ext))
		}
	}

	r.byLanguage[config.Language] = config
	for _, ext := range config.Extensions {
		r.byExt[strings.ToLower(ext)] = config.Language
	}
}

// Get returns the configuration for a language.
func (r *ConfigRegistry) Get(language string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.byLanguage[language]
	return config, ok
}

// LanguageForExtension returns the language that handles ext (with dot).
func (r *ConfigRegistry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.byExt[strings.ToLower(ext)]
	return lang, ok
}

// Languages returns the registered language identifiers.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	return langs
}
