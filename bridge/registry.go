// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// HandlerFunc executes one command kind. The returned mapping becomes
// the response's data field; a returned error becomes a failure
// response. Handlers run on the dispatching session's goroutine and
// reach the host only through the gateway.
type HandlerFunc func(ctx context.Context, call *Call) (map[string]any, error)

// Call is the context a handler receives: the decoded command and the
// session that sent it. Session is nil for internally generated
// dispatches (tests, embedder hooks).
type Call struct {
	Command Command
	Session *Session
}

// handlerEntry pairs a handler with its declared required fields.
type handlerEntry struct {
	fn       HandlerFunc
	required []string
}

// Registry maps command kinds to handlers. Registration happens during
// server construction; lookup is concurrent afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]handlerEntry)}
}

// Register adds a handler for kind, declaring which payload fields
// must be present before the handler runs. Panics on a duplicate kind;
// two handlers for one kind is a programming error, not a runtime
// condition.
func (r *Registry) Register(kind string, required []string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("bridge.Registry: duplicate handler for kind %q", kind))
	}
	r.handlers[kind] = handlerEntry{fn: fn, required: required}
}

// Kinds returns the registered command kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// lookup returns the handler entry for kind.
func (r *Registry) lookup(kind string) (handlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.handlers[kind]
	return entry, ok
}

// Dispatcher routes commands through validation, approval, and the
// registered handler, converting every failure into a structured
// Response. Nothing a handler does can take down the session: panics
// are recovered at this boundary.
type Dispatcher struct {
	registry   *Registry
	classifier *Classifier
	approvals  *ApprovalManager
	audit      *AuditLog
	logger     *slog.Logger
}

// NewDispatcher wires a dispatcher. audit may be nil to disable audit
// records.
func NewDispatcher(registry *Registry, classifier *Classifier, approvals *ApprovalManager, audit *AuditLog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:   registry,
		classifier: classifier,
		approvals:  approvals,
		audit:      audit,
		logger:     logger,
	}
}

// Dispatch executes one command on the calling goroutine and returns
// its response. Blocks while the command awaits approval or the host
// call's turn in the gateway queue.
func (d *Dispatcher) Dispatch(ctx context.Context, session *Session, command Command) (response Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"kind", command.Kind,
				"panic", r,
			)
			response = failureResponse(command.ID, fmt.Errorf("internal error in %s handler: %v", command.Kind, r))
		}
	}()

	entry, ok := d.registry.lookup(command.Kind)
	if !ok {
		return failureResponse(command.ID, ErrUnknownCommand)
	}

	for _, field := range entry.required {
		if value, present := command.Payload[field]; !present || value == nil {
			return failureResponse(command.ID, missingField(field))
		}
	}

	classification := d.classifier.Classify(command.Kind)
	mode := d.approvals.Mode()
	sessionID := ""
	if session != nil {
		sessionID = session.ID()
		mode = session.ApprovalMode()
	}

	if RequiresConfirmation(mode, classification) {
		if err := d.approvals.Confirm(ctx, sessionID, command, classification); err != nil {
			d.auditRecord(sessionID, command, classification, outcomeFor(err))
			return failureResponse(command.ID, err)
		}
	}

	if classification == Destructive {
		d.auditRecord(sessionID, command, classification, "executing")
	}

	data, err := entry.fn(ctx, &Call{Command: command, Session: session})
	if err != nil {
		d.logger.Debug("command failed",
			"kind", command.Kind,
			"session", sessionID,
			"error", err,
		)
		return failureResponse(command.ID, err)
	}
	return successResponse(command.ID, data)
}

// auditRecord writes an audit entry when auditing is enabled.
func (d *Dispatcher) auditRecord(sessionID string, command Command, classification Classification, outcome string) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(sessionID, command, classification, outcome); err != nil {
		d.logger.Error("writing audit record", "kind", command.Kind, "error", err)
	}
}

// outcomeFor maps an approval failure to its audit outcome.
func outcomeFor(err error) string {
	if err == ErrApprovalTimeout {
		return "timeout"
	}
	return "denied"
}
