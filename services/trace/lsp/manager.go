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
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// =============================================================================
// MANAGER CONFIG
// =============================================================================

// ManagerConfig configures the LSP manager.
type ManagerConfig struct {
	// StartupTimeout is the maximum time to wait for the initialize handshake.
	StartupTimeout time.Duration

	// RequestTimeout bounds each definition request.
	RequestTimeout time.Duration

	// IndexTimeout is the longest the manager waits after a spawn for the
	// server's ReadyNotification.
	IndexTimeout time.Duration

	// RequestsPerSecond limits request rate. Zero means unlimited.
	RequestsPerSecond float64
}

// DefaultManagerConfig returns the defaults used by the CLI.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		StartupTimeout: 30 * time.Second,
		RequestTimeout: 10 * time.Second,
		IndexTimeout:   60 * time.Second,
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager manages LSP server instances per language for one workspace.
//
// Description:
//
//	Servers are spawned lazily on first use. A server that dies is
//	replaced on the next request, but a spawn that fails is remembered and
//	returned to every later caller without retrying, so a missing or broken
//	language server costs one attempt per run.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Manager struct {
	config   ManagerConfig
	rootPath string
	configs  *ConfigRegistry

	servers   map[string]*Server
	failures  map[string]error
	serversMu sync.RWMutex
	startMu   sync.Map // language -> *sync.Mutex

	// spawn builds and starts a server; replaced in tests.
	spawn func(ctx context.Context, config LanguageConfig, rootPath string) (*Server, error)

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager for the workspace at rootPath.
func NewManager(rootPath string, config ManagerConfig) *Manager {
	return &Manager{
		config:   config,
		rootPath: rootPath,
		configs:  NewConfigRegistry(),
		servers:  make(map[string]*Server),
		failures: make(map[string]error),
		spawn:    spawnProcess,
		stopped:  make(chan struct{}),
	}
}

func spawnProcess(ctx context.Context, config LanguageConfig, rootPath string) (*Server, error) {
	server := NewServer(config, rootPath)
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// GetOrSpawn returns a ready server for the language, starting it if needed.
//
// Inputs:
//
//	ctx - Context for cancellation and startup timeout
//	language - The language identifier (e.g., "php")
//
// Outputs:
//
//	*Server - The ready server
//	error - Non-nil if the language is unsupported, the manager is stopped,
//	        or the server failed to start now or earlier
//
// Thread Safety:
//
//	Safe for concurrent use. At most one spawn per language is in flight.
func (m *Manager) GetOrSpawn(ctx context.Context, language string) (*Server, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	select {
	case <-m.stopped:
		return nil, ErrManagerStopped
	default:
	}

	if server, ok, err := m.lookup(language); ok {
		return server, err
	}

	lockI, _ := m.startMu.LoadOrStore(language, &sync.Mutex{})
	lock := lockI.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if server, ok, err := m.lookup(language); ok {
		return server, err
	}

	config, ok := m.configs.Get(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	startCtx := ctx
	if m.config.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, m.config.StartupTimeout)
		defer cancel()
	}

	server, err := m.spawn(startCtx, config, m.rootPath)
	recordServerSpawn(ctx, language, err == nil)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("language server unavailable; cross-file calls will not be followed",
				slog.String("language", language),
				slog.String("error", err.Error()),
			)
			m.serversMu.Lock()
			m.failures[language] = err
			m.serversMu.Unlock()
		}
		return nil, err
	}

	if err := server.WaitIndexed(ctx, m.config.IndexTimeout); err != nil {
		_ = server.Shutdown(context.Background())
		return nil, err
	}

	m.serversMu.Lock()
	select {
	case <-m.stopped:
		m.serversMu.Unlock()
		_ = server.Shutdown(context.Background())
		return nil, ErrManagerStopped
	default:
	}
	m.servers[language] = server
	m.serversMu.Unlock()

	return server, nil
}

// lookup returns a ready server or a remembered failure. ok is false when
// a spawn is needed.
func (m *Manager) lookup(language string) (*Server, bool, error) {
	m.serversMu.Lock()
	defer m.serversMu.Unlock()

	if err, failed := m.failures[language]; failed {
		return nil, true, err
	}
	server, ok := m.servers[language]
	if !ok {
		return nil, false, nil
	}
	if server.State() == ServerStateReady {
		return server, true, nil
	}
	delete(m.servers, language)
	return nil, false, nil
}

// Get returns the ready server for the language, or nil. It never spawns.
func (m *Manager) Get(language string) *Server {
	m.serversMu.RLock()
	defer m.serversMu.RUnlock()

	server, ok := m.servers[language]
	if ok && server.State() == ServerStateReady {
		return server
	}
	return nil
}

// Failure returns the remembered spawn error for the language, if any.
func (m *Manager) Failure(language string) error {
	m.serversMu.RLock()
	defer m.serversMu.RUnlock()
	return m.failures[language]
}

// ShutdownAll shuts down all servers and stops the manager. After this call
// GetOrSpawn returns ErrManagerStopped. Multiple calls are idempotent.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.stopped)
	})

	m.serversMu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, srv := range m.servers {
		servers = append(servers, srv)
	}
	m.servers = make(map[string]*Server)
	m.serversMu.Unlock()

	var lastErr error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// IsAvailable reports whether the language is configured and its server
// binary is on PATH. It does not start the server.
func (m *Manager) IsAvailable(language string) bool {
	config, ok := m.configs.Get(language)
	if !ok {
		return false
	}
	_, err := exec.LookPath(config.Command)
	return err == nil
}

// RunningServers returns languages with ready servers.
func (m *Manager) RunningServers() []string {
	m.serversMu.RLock()
	defer m.serversMu.RUnlock()

	langs := make([]string, 0, len(m.servers))
	for lang, srv := range m.servers {
		if srv.State() == ServerStateReady {
			langs = append(langs, lang)
		}
	}
	return langs
}

// Config returns the manager configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// RootPath returns the workspace root path.
func (m *Manager) RootPath() string {
	return m.rootPath
}

// Configs returns the language configuration registry so callers can
// override the default server command.
func (m *Manager) Configs() *ConfigRegistry {
	return m.configs
}
