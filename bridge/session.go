// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/polyfactory/hostbridge/lib/codec"
)

// sendQueueDepth is each session's outbound buffer. Responses and
// broadcast events share it; broadcasts are dropped when it is full,
// responses block the dispatcher (the client is not reading, so there
// is nothing better to do).
const sendQueueDepth = 64

// Session owns one client connection. Three goroutines cooperate:
//
//   - the reader pulls frames off the wire and decodes them, so
//     disconnects are noticed even while a command is blocked in
//     approval or the gateway queue;
//   - the dispatcher executes decoded commands strictly in arrival
//     order, which is what preserves per-session host-call ordering;
//   - the writer drains the outbound queue, so a slow client never
//     blocks the broadcaster or other sessions.
//
// A codec or framing error is unrecoverable — the stream position can
// no longer be trusted — and closes the connection without a response.
type Session struct {
	id     string
	conn   net.Conn
	server *Server
	logger *slog.Logger

	send   chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	modeOverride *Mode
}

// newSession wraps an accepted connection.
func newSession(conn net.Conn, server *Server) *Session {
	id := newSessionID()
	return &Session{
		id:     id,
		conn:   conn,
		server: server,
		logger: server.logger.With("session", id),
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// newSessionID returns a random 8-hex-character connection identifier.
func newSessionID() string {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("bridge: reading random session ID: " + err.Error())
	}
	return hex.EncodeToString(raw[:])
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the client's address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// ApprovalMode returns the session's mode override if set, otherwise
// the process-wide default.
func (s *Session) ApprovalMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modeOverride != nil {
		return *s.modeOverride
	}
	return s.server.approvals.Mode()
}

// SetModeOverride sets a session-scoped approval mode that shadows the
// process-wide default for this connection only.
func (s *Session) SetModeOverride(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modeOverride = &mode
}

// Close tears the session down. Safe to call from any goroutine and
// more than once.
func (s *Session) Close() {
	s.cancel()
	s.conn.Close()
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// run drives the session until disconnect or server shutdown. The
// server's accept loop calls it on its own goroutine with a context
// whose cancel function was installed by newSession's caller.
func (s *Session) run(ctx context.Context) {
	s.server.broadcaster.Subscribe(s.id, s.send)
	s.logger.Info("client connected", "remote", s.conn.RemoteAddr())

	defer func() {
		s.cancel()
		s.server.broadcaster.Unsubscribe(s.id)
		// Disconnect denies anything this session left pending; the
		// requester no longer exists to receive a result.
		s.server.approvals.SessionClosed(s.id)
		s.conn.Close()
		s.server.removeSession(s)
		s.logger.Info("client disconnected")
		close(s.done)
	}()

	commands := make(chan Command)
	go s.readLoop(ctx, commands)
	go s.writeLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case command, ok := <-commands:
			if !ok {
				return
			}
			response := s.server.dispatcher.Dispatch(ctx, s, command)
			if !s.enqueueResponse(ctx, response) {
				return
			}
		}
	}
}

// readLoop decodes frames into commands until the stream ends or a
// frame cannot be trusted. Runs on its own goroutine so EOF is
// detected even while the dispatcher is blocked.
func (s *Session) readLoop(ctx context.Context, commands chan<- Command) {
	defer close(commands)
	defer s.cancel()

	for {
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn("closing session on protocol error", "error", err)
			}
			return
		}

		request, err := DecodeRequest(payload)
		if err != nil {
			// Codec error: framing state is untrustworthy, close
			// without attempting a response.
			s.logger.Warn("closing session on codec error", "error", err)
			return
		}

		command, err := ParseCommand(request)
		if err != nil {
			// The envelope itself was well-formed; report and carry on.
			if !s.enqueueResponse(ctx, failureResponse(request.ID, err)) {
				return
			}
			continue
		}

		select {
		case commands <- command:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop frames and writes queued envelopes.
func (s *Session) writeLoop(ctx context.Context) {
	frameWriter := &FrameWriter{
		Compression: s.server.compression,
		Threshold:   s.server.compressionThreshold,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.send:
			if err := frameWriter.WriteFrame(s.conn, payload); err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("write failed, closing session", "error", err)
				}
				s.cancel()
				return
			}
		}
	}
}

// enqueueResponse encodes and queues a response for the writer.
// Returns false when the session is shutting down.
func (s *Session) enqueueResponse(ctx context.Context, response Response) bool {
	payload, err := codec.Marshal(response)
	if err != nil {
		s.logger.Error("encoding response", "error", err)
		return true
	}
	select {
	case s.send <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}
