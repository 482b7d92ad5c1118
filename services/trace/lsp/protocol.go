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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents a JSON-RPC request sent by the client.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC response to a client request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC error.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification represents a JSON-RPC notification (no ID, no response).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// incoming is any message a server may send: a response, a notification, or
// a request of its own. The id is kept raw since servers may use strings.
type incoming struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// reply answers a server-initiated request. Result is always serialized,
// null included.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// NotificationHandler receives server notifications from the read loop. It
// must not block.
type NotificationHandler func(method string, params json.RawMessage)

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication over stdin/stdout.
//
// Description:
//
//	Implements the LSP base protocol using Content-Length headers.
//	Correlates responses with pending requests, forwards notifications to
//	an optional handler and answers server requests such as
//	workspace/configuration with empty results so the server never waits
//	on the client.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can send requests
//	and notifications simultaneously.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32

	onNotify NotificationHandler
}

// NewProtocol creates a protocol handler reading server output from r and
// writing client messages to w.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// OnNotification installs the notification handler. Call before ReadLoop.
func (p *Protocol) OnNotification(fn NotificationHandler) {
	p.onNotify = fn
}

// SendRequest sends a request and waits for the response.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method to invoke (e.g., "textDocument/definition")
//	params - Method parameters (will be JSON-marshaled)
//
// Outputs:
//
//	*Response - The server's response
//	error - ErrServerNotRunning once closed, ErrRequestTimeout when ctx ends
//	        first, *LSPError when the server answered with an error
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrServerNotRunning
	}

	id := atomic.AddInt64(&p.nextID, 1)

	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrServerNotRunning
		}
		if resp.Error != nil {
			return nil, &LSPError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a notification (no response expected).
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrServerNotRunning
	}
	return p.writeMessage(Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
}

// writeMessage marshals and writes a message with Content-Length header.
func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := p.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the server until the stream ends.
//
// Description:
//
//	Must run in its own goroutine for as long as the server lives. Returns
//	nil after Close, ErrServerCrashed when the server closes its output
//	unexpectedly, or the read error.
//
// Thread Safety:
//
//	Must be called from a single goroutine.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrServerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

// readMessage reads a single message from the server.
func (p *Protocol) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
			if contentLength < 0 {
				return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// handleMessage dispatches a received message.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var in incoming
	if err := json.Unmarshal(msg, &in); err != nil {
		slog.Debug("dropping malformed lsp message", slog.String("error", err.Error()))
		return
	}

	switch {
	case in.Method != "" && len(in.ID) > 0:
		p.answer(in)
	case in.Method != "":
		if p.onNotify != nil {
			p.onNotify(in.Method, in.Params)
		}
	default:
		p.dispatch(in)
	}
}

// dispatch delivers a response to its waiting request.
func (p *Protocol) dispatch(in incoming) {
	id, err := strconv.ParseInt(string(in.ID), 10, 64)
	if err != nil || id == 0 {
		return
	}

	// The send happens under the lock so Close cannot close ch in between.
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	ch, ok := p.pending[id]
	if !ok {
		return
	}
	select {
	case ch <- Response{JSONRPC: JSONRPCVersion, ID: id, Result: in.Result, Error: in.Error}:
	default:
	}
}

// answer replies to a server-initiated request.
func (p *Protocol) answer(in incoming) {
	var result interface{}
	if in.Method == "workspace/configuration" {
		var params ConfigurationParams
		if err := json.Unmarshal(in.Params, &params); err == nil {
			result = make([]interface{}, len(params.Items))
		}
	}

	if atomic.LoadInt32(&p.closed) == 1 {
		return
	}
	err := p.writeMessage(reply{JSONRPC: JSONRPCVersion, ID: in.ID, Result: result})
	if err != nil {
		slog.Debug("reply to server request failed",
			slog.String("method", in.Method),
			slog.String("error", err.Error()))
	}
}

// Close marks the protocol as closed and fails every pending request.
// It does not close the underlying reader or writer.
func (p *Protocol) Close() {
	atomic.StoreInt32(&p.closed, 1)

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error: &ResponseError{
				Code:    -32099,
				Message: "server connection closed",
			},
		}:
		default:
		}
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}
