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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of an LSP server.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the server process is starting.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateStopping means the server is shutting down.
	ServerStateStopping

	// ServerStateStopped means the server has terminated.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// shutdownGrace bounds each step of a graceful shutdown.
const shutdownGrace = 5 * time.Second

// =============================================================================
// SERVER
// =============================================================================

// Server represents a running LSP server process.
//
// Description:
//
//	Owns the process, its pipes and two goroutines run under an errgroup:
//	the protocol read loop and a drain that forwards the server's stderr to
//	the debug log. A server whose output ends unexpectedly moves to
//	ServerStateStopped on its own so the Manager can replace it.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Server struct {
	config   LanguageConfig
	rootPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities

	state   ServerState
	stateMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	indexed     chan struct{}
	indexedOnce sync.Once

	shutdownOnce sync.Once

	lastUsed   time.Time
	lastUsedMu sync.Mutex
}

// NewServer creates a server instance for config rooted at rootPath. The
// process is not started until Start.
func NewServer(config LanguageConfig, rootPath string) *Server {
	return &Server{
		config:   config,
		rootPath: rootPath,
		state:    ServerStateUninitialized,
		indexed:  make(chan struct{}),
		lastUsed: time.Now(),
	}
}

// Start starts the LSP server process and initializes it.
//
// Inputs:
//
//	ctx - Bounds the handshake only; the process outlives it
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - Server binary not found
//	ErrServerAlreadyStarted - Start called on a non-uninitialized server
//	ErrInitializeFailed - LSP initialize handshake failed
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if err := s.beginStart(); err != nil {
		return err
	}

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateStopped)
		slog.Warn("LSP server not installed",
			slog.String("language", s.config.Language),
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	slog.Info("Starting LSP server",
		slog.String("language", s.config.Language),
		slog.String("command", path),
		slog.String("root_path", s.rootPath),
	)

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cmd = exec.CommandContext(s.ctx, path, s.config.Args...)
	s.cmd.Dir = s.rootPath

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		return fmt.Errorf("start process: %w", err)
	}

	return s.handshake(ctx, stdout, stdin, stderr)
}

// startWithPipes runs the handshake over caller-supplied streams instead of
// a child process.
func (s *Server) startWithPipes(ctx context.Context, stdout io.ReadCloser, stdin io.WriteCloser) error {
	if err := s.beginStart(); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s.handshake(ctx, stdout, stdin, nil)
}

func (s *Server) beginStart() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != ServerStateUninitialized {
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	return nil
}

// handshake wires the streams, starts the background goroutines and
// performs initialize/initialized.
func (s *Server) handshake(ctx context.Context, stdout io.ReadCloser, stdin io.WriteCloser, stderr io.Reader) error {
	s.stdin = stdin
	s.stdout = stdout
	s.protocol = NewProtocol(stdout, stdin)
	s.protocol.OnNotification(s.handleNotification)

	s.group.Go(s.readLoop)
	if stderr != nil {
		s.group.Go(func() error { return s.drainStderr(stderr) })
	}

	if err := s.initialize(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.stateMu.Lock()
	if s.state == ServerStateStarting {
		s.state = ServerStateReady
	}
	ready := s.state == ServerStateReady
	s.stateMu.Unlock()
	if !ready {
		return fmt.Errorf("%w: server exited during initialize", ErrInitializeFailed)
	}
	s.touchLastUsed()

	slog.Info("LSP server ready",
		slog.String("language", s.config.Language),
		slog.Bool("definition", s.capabilities.HasDefinitionProvider()),
	)
	return nil
}

func (s *Server) readLoop() error {
	err := s.protocol.ReadLoop(s.ctx)
	s.protocol.Close()

	s.stateMu.Lock()
	unexpected := s.state == ServerStateReady || s.state == ServerStateStarting
	if unexpected {
		s.state = ServerStateStopped
	}
	s.stateMu.Unlock()

	if unexpected {
		slog.Warn("LSP server output ended",
			slog.String("language", s.config.Language),
			slog.Any("error", err),
		)
	}
	return err
}

func (s *Server) drainStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Debug("lsp stderr",
			slog.String("language", s.config.Language),
			slog.String("line", scanner.Text()),
		)
	}
	// The pipe is closed by Wait once the process exits.
	return nil
}

func (s *Server) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "window/logMessage", "window/showMessage":
		var msg LogMessageParams
		if err := json.Unmarshal(params, &msg); err == nil {
			slog.Debug("lsp message",
				slog.String("language", s.config.Language),
				slog.String("message", msg.Message),
			)
		}
	}
	if s.config.ReadyNotification != "" && method == s.config.ReadyNotification {
		s.indexedOnce.Do(func() { close(s.indexed) })
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	rootURI := PathToURI(s.rootPath)
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
		RootPath:  s.rootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
				Definition:      &DefinitionCapabilities{LinkSupport: true},
			},
			Workspace: WorkspaceClientCapabilities{
				Configuration:    true,
				WorkspaceFolders: true,
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: "workspace"},
		},
		InitializationOptions: s.config.InitializationOptions,
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.capabilities = result.Capabilities

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// WaitIndexed blocks until the server reports its workspace index complete,
// max elapses, or ctx ends. It returns immediately when the language has no
// ReadyNotification. Reaching max is not an error: definitions are simply
// less likely to resolve.
func (s *Server) WaitIndexed(ctx context.Context, max time.Duration) error {
	if s.config.ReadyNotification == "" || max <= 0 {
		return nil
	}

	timer := time.NewTimer(max)
	defer timer.Stop()

	select {
	case <-s.indexed:
		return nil
	case <-timer.C:
		slog.Debug("LSP server still indexing, continuing",
			slog.String("language", s.config.Language),
			slog.Duration("waited", max),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit, closes stdin, waits for the process and kills
//	it if it does not exit within the grace period, then waits for the
//	background goroutines. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { s.shutdown(ctx) })
	return nil
}

func (s *Server) shutdown(ctx context.Context) {
	s.stateMu.Lock()
	wasReady := s.state == ServerStateReady || s.state == ServerStateStarting
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	slog.Info("Shutting down LSP server", slog.String("language", s.config.Language))

	if s.protocol != nil {
		if wasReady {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
			cancel()
			_ = s.protocol.SendNotification("exit", nil)
		}
		s.protocol.Close()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-time.After(shutdownGrace):
			_ = s.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	s.cleanup()

	waited := make(chan error, 1)
	go func() { waited <- s.group.Wait() }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		slog.Debug("LSP server goroutines still running after shutdown",
			slog.String("language", s.config.Language))
	}
}

// cleanup releases resources and sets state to stopped.
func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.setState(ServerStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Language returns the language this server handles.
func (s *Server) Language() string {
	return s.config.Language
}

// RootPath returns the workspace root path.
func (s *Server) RootPath() string {
	return s.rootPath
}

// Capabilities returns the capabilities reported during initialization.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// LastUsed returns when the server was last used.
func (s *Server) LastUsed() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsed
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendNotification(method, params)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Server) touchLastUsed() {
	s.lastUsedMu.Lock()
	s.lastUsed = time.Now()
	s.lastUsedMu.Unlock()
}
