// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/polyfactory/hostbridge/lib/clock"
)

// Mode is the approval mode governing whether commands execute
// immediately or wait for operator confirmation.
type Mode int

const (
	// ModeAuto executes safe commands immediately and confirms
	// destructive ones.
	ModeAuto Mode = iota

	// ModePreview confirms every command, safe or not.
	ModePreview

	// ModeDestructive behaves identically to ModeAuto. It exists as a
	// self-documenting alias for operators who want the intent
	// ("confirm destructive operations") spelled out in config.
	ModeDestructive
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModePreview:
		return "preview"
	case ModeDestructive:
		return "destructive"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode parses a wire or config mode name.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "auto":
		return ModeAuto, nil
	case "preview":
		return ModePreview, nil
	case "destructive":
		return ModeDestructive, nil
	default:
		return 0, fmt.Errorf("invalid approval mode: %q", name)
	}
}

// RequiresConfirmation is the approval policy: destructive commands
// always confirm; safe commands confirm only under PREVIEW.
func RequiresConfirmation(mode Mode, classification Classification) bool {
	if classification == Destructive {
		return true
	}
	return mode == ModePreview
}

// PromptRequest is the operator-facing description of a command
// awaiting confirmation.
type PromptRequest struct {
	// ID identifies the pending approval for Resolve.
	ID string

	// SessionID is the requesting session.
	SessionID string

	// Kind is the command kind awaiting execution.
	Kind string

	// Description is a one-line summary ("Create geo node").
	Description string

	// Preview describes the command's effects ("Will create:
	// /obj/box (geo)").
	Preview string

	// Destructive reports the command's classification, so the prompt
	// can escalate its severity.
	Destructive bool

	// CreatedAt is when the command was parked.
	CreatedAt time.Time
}

// Prompter surfaces confirmation requests to the human operator. The
// bridge calls Prompt on a dedicated goroutine, so implementations may
// block for as long as the operator takes; the manager's timeout runs
// independently. The returned decision resolves the pending approval —
// a late return after timeout or disconnect is a no-op.
//
// Embedders route this to the host's dialog facility, which usually
// means marshaling onto the host's UI context themselves.
type Prompter interface {
	Prompt(request PromptRequest) bool
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(request PromptRequest) bool

// Prompt calls f.
func (f PrompterFunc) Prompt(request PromptRequest) bool { return f(request) }

// DenyAll is the prompter used when no prompter is configured: every
// confirmation request is declined. A bridge without an operator
// surface must not execute destructive commands.
var DenyAll Prompter = PrompterFunc(func(PromptRequest) bool { return false })

// pendingApproval is one parked command. It exists only while the
// dispatching goroutine is blocked waiting and is resolved exactly
// once: the resolver that removes it from the manager's map owns the
// result send.
type pendingApproval struct {
	request   PromptRequest
	sessionID string
	result    chan Resolution
	timer     *clock.Timer
}

// Resolution is the terminal state of a pending approval.
type Resolution int

const (
	// ResolutionApproved executes the command.
	ResolutionApproved Resolution = iota

	// ResolutionDenied cancels it ("command cancelled by user").
	// Covers explicit operator denial and requester disconnect.
	ResolutionDenied

	// ResolutionTimedOut cancels it ("approval timed out").
	ResolutionTimedOut
)

// ApprovalManager owns the process-wide approval mode and the set of
// pending approvals. Mode changes apply to subsequently dispatched
// commands only — a pending approval is never retroactively resolved
// by a mode change.
type ApprovalManager struct {
	clock    clock.Clock
	timeout  time.Duration
	prompter Prompter
	logger   *slog.Logger

	mu          sync.Mutex
	defaultMode Mode
	pending     map[string]*pendingApproval
	nextID      uint64
}

// NewApprovalManager creates a manager. A nil prompter denies all
// confirmations; a zero timeout disables the prompt deadline.
func NewApprovalManager(defaultMode Mode, timeout time.Duration, prompter Prompter, clk clock.Clock, logger *slog.Logger) *ApprovalManager {
	if prompter == nil {
		prompter = DenyAll
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalManager{
		clock:       clk,
		timeout:     timeout,
		prompter:    prompter,
		logger:      logger,
		defaultMode: defaultMode,
		pending:     make(map[string]*pendingApproval),
	}
}

// Mode returns the process-wide default approval mode.
func (m *ApprovalManager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultMode
}

// SetMode changes the process-wide default approval mode.
func (m *ApprovalManager) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultMode = mode
}

// Confirm parks the command as a pending approval, surfaces a prompt,
// and blocks until approve, deny, timeout, or cancellation of ctx
// (which the session cancels on disconnect). Returns nil when
// approved; ErrApprovalDenied or ErrApprovalTimeout otherwise. The
// command has not touched the host in the error cases.
func (m *ApprovalManager) Confirm(ctx context.Context, sessionID string, command Command, classification Classification) error {
	request := PromptRequest{
		SessionID:   sessionID,
		Kind:        command.Kind,
		Description: describeCommand(command),
		Preview:     previewCommand(command),
		Destructive: classification == Destructive,
		CreatedAt:   m.clock.Now(),
	}

	pending := &pendingApproval{
		sessionID: sessionID,
		result:    make(chan Resolution, 1),
	}

	m.mu.Lock()
	m.nextID++
	request.ID = fmt.Sprintf("approval-%d", m.nextID)
	pending.request = request
	m.pending[request.ID] = pending
	m.mu.Unlock()

	if m.timeout > 0 {
		pending.timer = m.clock.AfterFunc(m.timeout, func() {
			m.resolve(request.ID, ResolutionTimedOut)
		})
	}

	go func() {
		approved := m.prompter.Prompt(request)
		if approved {
			m.resolve(request.ID, ResolutionApproved)
		} else {
			m.resolve(request.ID, ResolutionDenied)
		}
	}()

	m.logger.Info("command awaiting approval",
		"approval", request.ID,
		"session", sessionID,
		"kind", command.Kind,
	)

	select {
	case resolution := <-pending.result:
		switch resolution {
		case ResolutionApproved:
			return nil
		case ResolutionTimedOut:
			return ErrApprovalTimeout
		default:
			return ErrApprovalDenied
		}
	case <-ctx.Done():
		// Requesting session is gone; nobody is left to receive the
		// result. Resolve as denied so the prompt's eventual answer
		// becomes a no-op.
		m.resolve(request.ID, ResolutionDenied)
		return ErrApprovalDenied
	}
}

// Resolve settles a pending approval by ID from an external approval
// surface (a host UI panel listing Pending). Returns false if the ID
// is unknown or already resolved.
func (m *ApprovalManager) Resolve(id string, approved bool) bool {
	resolution := ResolutionDenied
	if approved {
		resolution = ResolutionApproved
	}
	return m.resolve(id, resolution)
}

// SessionClosed denies every pending approval belonging to the given
// session. Called by the session on disconnect.
func (m *ApprovalManager) SessionClosed(sessionID string) {
	m.mu.Lock()
	var ids []string
	for id, pending := range m.pending {
		if pending.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.resolve(id, ResolutionDenied)
	}
}

// Pending returns the currently parked requests, for approval UIs.
func (m *ApprovalManager) Pending() []PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]PromptRequest, 0, len(m.pending))
	for _, pending := range m.pending {
		requests = append(requests, pending.request)
	}
	return requests
}

// resolve settles a pending approval exactly once. Removing the entry
// from the map under the lock elects the single resolver; everyone
// else finds the ID gone and returns false.
func (m *ApprovalManager) resolve(id string, resolution Resolution) bool {
	m.mu.Lock()
	pending, exists := m.pending[id]
	if exists {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	pending.result <- resolution

	m.logger.Info("approval resolved",
		"approval", id,
		"resolution", int(resolution),
	)
	return true
}

// describeCommand produces the one-line summary shown in prompts.
func describeCommand(command Command) string {
	payload := command.Payload
	switch command.Kind {
	case "create_node":
		return fmt.Sprintf("Create %s node", optionalString(payload, "node_type", "?"))
	case "delete_node":
		return fmt.Sprintf("Delete node: %s", optionalString(payload, "node_path", "?"))
	case "set_parameter":
		return fmt.Sprintf("Set %s on %s",
			optionalString(payload, "parameter", "?"),
			optionalString(payload, "node_path", "?"))
	case "execute_script":
		return "Execute script"
	case "save_scene":
		return "Save scene"
	case "load_scene":
		return fmt.Sprintf("Load scene: %s", optionalString(payload, "filepath", "?"))
	default:
		return command.Kind
	}
}

// previewCommand produces the multi-line effect preview shown in
// prompts. Scripts are truncated to their first five lines.
func previewCommand(command Command) string {
	payload := command.Payload
	switch command.Kind {
	case "create_node":
		parent := optionalString(payload, "parent_path", "/obj")
		name := optionalString(payload, "node_name", "new_node")
		nodeType := optionalString(payload, "node_type", "?")
		return fmt.Sprintf("Will create: %s/%s (%s)", parent, name, nodeType)

	case "delete_node":
		return fmt.Sprintf("Will delete: %s", optionalString(payload, "node_path", "?"))

	case "set_parameter":
		return fmt.Sprintf("Will set %s.%s = %v",
			optionalString(payload, "node_path", "?"),
			optionalString(payload, "parameter", "?"),
			payload["value"])

	case "execute_script":
		code := optionalString(payload, "code", "")
		lines := strings.Split(code, "\n")
		preview := strings.Join(lines[:min(5, len(lines))], "\n")
		if len(lines) > 5 {
			preview += fmt.Sprintf("\n... (%d more lines)", len(lines)-5)
		}
		return "Will execute:\n" + preview

	default:
		return "Will execute: " + command.Kind
	}
}
