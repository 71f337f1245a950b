// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/polyfactory/hostbridge/lib/clock"
)

// Options configures a Server. The zero value is usable: it listens on
// 127.0.0.1:9876 (falling back across the next four ports), starts in
// auto mode with a deny-all prompter, sends uncompressed frames, and
// does not audit.
type Options struct {
	// Host is the listen address. Defaults to 127.0.0.1; the bridge is
	// a local-machine protocol and should not be exposed beyond it.
	Host string

	// PreferredPort is the first port tried. Defaults to 9876.
	PreferredPort int

	// FallbackPorts is the total number of consecutive ports tried,
	// including the preferred one. Defaults to 5.
	FallbackPorts int

	// Mode is the initial process-wide approval mode.
	Mode Mode

	// Prompter resolves confirmation requests. Defaults to DenyAll.
	Prompter Prompter

	// ApprovalTimeout bounds how long a confirmation may stay pending.
	// Zero selects the manager's default.
	ApprovalTimeout time.Duration

	// Compression selects the frame compression applied to payloads at
	// or above CompressionThreshold. The zero value sends everything
	// uncompressed.
	Compression CompressionTag

	// CompressionThreshold is the minimum payload size, in bytes, that
	// gets compressed. Zero selects the writer's default.
	CompressionThreshold int

	// Policy extends or overrides the built-in command classification.
	Policy *Policy

	// Audit receives a record for every destructive command decision.
	// Nil disables auditing.
	Audit *AuditLog

	// Clock drives approval timeouts and audit timestamps. Defaults to
	// the real clock; tests substitute a fake.
	Clock clock.Clock

	// Logger receives server and session logs. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// Server accepts bridge connections and funnels their commands through
// one gateway into the host. Construct with NewServer, register the
// host's handlers (RegisterHostCommands or Registry directly), then
// Listen and Serve.
type Server struct {
	logger      *slog.Logger
	clock       clock.Clock
	host        string
	firstPort   int
	portCount   int
	compression CompressionTag

	compressionThreshold int

	registry    *Registry
	classifier  *Classifier
	gateway     *Gateway
	store       *StateStore
	broadcaster *Broadcaster
	approvals   *ApprovalManager
	audit       *AuditLog
	dispatcher  *Dispatcher

	mu       sync.Mutex
	listener net.Listener
	port     int
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// NewServer wires a server from options. The command registry starts
// empty; call RegisterHostCommands to install the standard command set.
func NewServer(options Options) *Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.PreferredPort == 0 {
		options.PreferredPort = 9876
	}
	if options.FallbackPorts == 0 {
		options.FallbackPorts = 5
	}
	if options.Prompter == nil {
		options.Prompter = DenyAll
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	classifier := NewClassifier()
	if options.Policy != nil {
		classifier = classifier.Apply(options.Policy)
	}

	registry := NewRegistry()
	approvals := NewApprovalManager(options.Mode, options.ApprovalTimeout, options.Prompter, options.Clock, options.Logger)

	server := &Server{
		logger:               options.Logger,
		clock:                options.Clock,
		host:                 options.Host,
		firstPort:            options.PreferredPort,
		portCount:            options.FallbackPorts,
		compression:          options.Compression,
		compressionThreshold: options.CompressionThreshold,
		registry:             registry,
		classifier:           classifier,
		gateway:              NewGateway(options.Logger),
		store:                NewStateStore(),
		broadcaster:          NewBroadcaster(options.Logger),
		approvals:            approvals,
		audit:                options.Audit,
		sessions:             make(map[string]*Session),
	}
	server.dispatcher = NewDispatcher(registry, classifier, approvals, options.Audit, options.Logger)
	return server
}

// Registry returns the command registry for handler registration.
func (s *Server) Registry() *Registry { return s.registry }

// Gateway returns the host-call gateway. The embedder runs it on the
// host's thread (Run) or pumps it from the host's event loop
// (DrainPending).
func (s *Server) Gateway() *Gateway { return s.gateway }

// State returns the process-wide session state store.
func (s *Server) State() *StateStore { return s.store }

// Broadcaster returns the event broadcaster, for embedders that emit
// their own unsolicited events.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Approvals returns the approval manager, for UIs that list or resolve
// pending confirmations out of band.
func (s *Server) Approvals() *ApprovalManager { return s.approvals }

// Dispatcher returns the command dispatcher, for embedders that inject
// commands without a connection.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Port returns the bound port. Valid after Listen succeeds.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the bound address. Valid after Listen succeeds.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Listen binds the listen socket, trying the preferred port first and
// then each consecutive fallback. The single-instance case — another
// bridge already bound — surfaces as a BindError only after every
// candidate is exhausted. Returns the bound port.
func (s *Server) Listen() (int, error) {
	var lastErr error
	for offset := 0; offset < s.portCount; offset++ {
		port := s.firstPort + offset
		listener, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			s.logger.Debug("port unavailable", "port", port, "error", err)
			continue
		}

		s.mu.Lock()
		s.listener = listener
		s.port = port
		s.mu.Unlock()

		if port != s.firstPort {
			s.logger.Info("preferred port unavailable, using fallback",
				"preferred", s.firstPort,
				"port", port,
			)
		}
		s.logger.Info("listening", "address", listener.Addr())
		return port, nil
	}
	return 0, &BindError{Host: s.host, FirstPort: s.firstPort, Count: s.portCount, LastErr: lastErr}
}

// Serve accepts connections until ctx is cancelled or Close is called,
// then waits for every session to tear down. Call after Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("bridge: Serve called before Listen")
	}

	// Closing the listener is what actually unblocks Accept.
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("accepting bridge connection: %w", err)
		}

		session := newSession(conn, s)
		sessionCtx, cancel := context.WithCancel(ctx)
		session.cancel = cancel

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			cancel()
			conn.Close()
			continue
		}
		s.sessions[session.id] = session
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session.run(sessionCtx)
		}()
	}
}

// Close stops accepting, closes every session, and shuts the gateway
// down. Safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, session := range sessions {
		session.Close()
	}
	s.gateway.Close()
}

// removeSession drops a finished session from the table.
func (s *Server) removeSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.id)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
