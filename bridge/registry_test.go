// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/polyfactory/hostbridge/lib/clock"
)

func TestRegistryDuplicateKindPanics(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register("ping", nil, func(context.Context, *Call) (map[string]any, error) {
		return nil, nil
	})

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	registry.Register("ping", nil, func(context.Context, *Call) (map[string]any, error) {
		return nil, nil
	})
}

func TestRegistryKindsSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	noop := func(context.Context, *Call) (map[string]any, error) { return nil, nil }
	registry.Register("zebra", nil, noop)
	registry.Register("alpha", nil, noop)
	registry.Register("mango", nil, noop)

	kinds := registry.Kinds()
	want := []string{"alpha", "mango", "zebra"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

// newTestDispatcher wires a dispatcher around a single echo handler.
func newTestDispatcher(t *testing.T, mode Mode, prompter Prompter, audit *AuditLog) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	registry.Register("echo", []string{"value"}, func(_ context.Context, call *Call) (map[string]any, error) {
		return map[string]any{"value": call.Command.Payload["value"]}, nil
	})
	registry.Register("touch_scene", nil, func(context.Context, *Call) (map[string]any, error) {
		return map[string]any{"touched": true}, nil
	})
	registry.Register("fail", nil, func(context.Context, *Call) (map[string]any, error) {
		return nil, errors.New("handler says no")
	})
	registry.Register("explode", nil, func(context.Context, *Call) (map[string]any, error) {
		panic("handler bug")
	})

	classifier := NewClassifier().Apply(&Policy{
		Safe:        []string{"echo", "fail", "explode"},
		Destructive: []string{"touch_scene"},
	})
	approvals := NewApprovalManager(mode, time.Minute, prompter, clock.Fake(time.Unix(0, 0)), nil)
	return NewDispatcher(registry, classifier, approvals, audit, nil)
}

func TestDispatchSuccess(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{
		Kind:    "echo",
		ID:      "r1",
		Payload: map[string]any{"value": "hello"},
	})
	if !response.Success || response.ID != "r1" {
		t.Fatalf("response: %+v", response)
	}
	if response.Data["value"] != "hello" {
		t.Fatalf("data: %v", response.Data)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "nope", Payload: map[string]any{}})
	if response.Success || response.Error != ErrUnknownCommand.Error() {
		t.Fatalf("response: %+v", response)
	}
}

func TestDispatchMissingRequiredField(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "echo", Payload: map[string]any{}})
	if response.Success {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(response.Error, "value") {
		t.Fatalf("error %q does not name the field", response.Error)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "fail", Payload: map[string]any{}})
	if response.Success || response.Error != "handler says no" {
		t.Fatalf("response: %+v", response)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "explode", Payload: map[string]any{}})
	if response.Success {
		t.Fatal("expected failure from panicking handler")
	}
	if !strings.Contains(response.Error, "handler bug") {
		t.Fatalf("error %q does not carry the panic value", response.Error)
	}
}

func TestDispatchDestructiveDeniedWithoutOperator(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "touch_scene", Payload: map[string]any{}})
	if response.Success || response.Error != ErrApprovalDenied.Error() {
		t.Fatalf("response: %+v", response)
	}
}

func TestDispatchDestructiveApproved(t *testing.T) {
	t.Parallel()

	approve := PrompterFunc(func(PromptRequest) bool { return true })
	dispatcher := newTestDispatcher(t, ModeAuto, approve, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{Kind: "touch_scene", Payload: map[string]any{}})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
}

func TestDispatchPreviewModeConfirmsSafeCommands(t *testing.T) {
	t.Parallel()

	prompted := false
	prompter := PrompterFunc(func(PromptRequest) bool {
		prompted = true
		return true
	})
	dispatcher := newTestDispatcher(t, ModePreview, prompter, nil)
	response := dispatcher.Dispatch(context.Background(), nil, Command{
		Kind:    "echo",
		Payload: map[string]any{"value": int64(1)},
	})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if !prompted {
		t.Fatal("preview mode must confirm safe commands")
	}
}

func TestDispatchWritesAuditTrail(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	audit := NewAuditLog(&buffer, clock.Fake(time.Unix(1700000000, 0)))

	approve := PrompterFunc(func(PromptRequest) bool { return true })
	dispatcher := newTestDispatcher(t, ModeAuto, approve, audit)

	dispatcher.Dispatch(context.Background(), nil, Command{Kind: "touch_scene", Payload: map[string]any{}})

	var record AuditRecord
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if record.Kind != "touch_scene" || record.Outcome != "executing" || record.Classification != "destructive" {
		t.Fatalf("record: %+v", record)
	}
}

func TestDispatchAuditsDenial(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	audit := NewAuditLog(&buffer, clock.Fake(time.Unix(1700000000, 0)))
	dispatcher := newTestDispatcher(t, ModeAuto, DenyAll, audit)

	dispatcher.Dispatch(context.Background(), nil, Command{Kind: "touch_scene", Payload: map[string]any{}})

	var record AuditRecord
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if record.Outcome != "denied" {
		t.Fatalf("outcome %q, want denied", record.Outcome)
	}
}
