// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"

	"github.com/polyfactory/hostbridge/lib/codec"
)

// Request is the client-to-server envelope. Type is either a command
// kind directly ("create_node", "ping") or one of the wrapper forms
// "command" and "batch", where the kind lives inside Data. Both forms
// are accepted; the wrapper form is what the original clients send.
type Request struct {
	// Type names the command kind or wrapper.
	Type string `cbor:"type"`

	// ID is an opaque client-chosen token echoed back on the
	// response. Required only for correlation on clients that
	// pipeline; single-in-flight clients may omit it.
	ID string `cbor:"id,omitempty"`

	// Data carries the command parameters.
	Data map[string]any `cbor:"data,omitempty"`
}

// Response is the server-to-client envelope for a dispatched command.
// Exactly one of Data / Error is populated depending on Success.
// Detail carries supplementary failure context (host stack traces,
// batch failure positions).
type Response struct {
	ID      string         `cbor:"id,omitempty"`
	Success bool           `cbor:"success"`
	Data    map[string]any `cbor:"data,omitempty"`
	Error   string         `cbor:"error,omitempty"`
	Detail  string         `cbor:"detail,omitempty"`
}

// Event is an unsolicited server-to-client envelope pushed by the
// broadcaster. Type is always "event" on the wire so clients can
// distinguish it from command responses.
type Event struct {
	Type string         `cbor:"type"`
	Name string         `cbor:"event"`
	Data map[string]any `cbor:"data,omitempty"`
}

// NewEvent builds an event envelope with the wire type already set.
func NewEvent(name string, data map[string]any) Event {
	return Event{Type: "event", Name: name, Data: data}
}

// Command is the dispatcher's view of one decoded request: a kind, a
// correlation token, and an immutable payload mapping.
type Command struct {
	Kind    string
	ID      string
	Payload map[string]any
}

// errEmptyKind rejects requests whose command kind cannot be determined.
var errEmptyKind = errors.New("missing command type")

// ParseCommand extracts the Command from a decoded request envelope.
// The wrapper form {type: "command", data: {type: "create_node", ...}}
// and the direct form {type: "create_node", data: {...}} both resolve
// to the same Command.
func ParseCommand(request Request) (Command, error) {
	if request.Type == "" {
		return Command{}, errEmptyKind
	}

	if request.Type == "command" {
		kind, _ := request.Data["type"].(string)
		if kind == "" {
			return Command{}, errEmptyKind
		}
		return Command{Kind: kind, ID: request.ID, Payload: request.Data}, nil
	}

	payload := request.Data
	if payload == nil {
		payload = map[string]any{}
	}
	return Command{Kind: request.Type, ID: request.ID, Payload: payload}, nil
}

// DecodeRequest decodes one frame payload into a request envelope.
func DecodeRequest(payload []byte) (Request, error) {
	var request Request
	if err := codec.Unmarshal(payload, &request); err != nil {
		return Request{}, err
	}
	return request, nil
}

// successResponse builds the envelope for a completed command.
func successResponse(id string, data map[string]any) Response {
	return Response{ID: id, Success: true, Data: data}
}

// failureResponse builds the envelope for a failed command. The
// error taxonomy maps onto the two string fields: Error always gets
// the message, Detail gets a host stack trace when one exists.
func failureResponse(id string, err error) Response {
	response := Response{ID: id, Success: false, Error: err.Error()}

	var hostErr *HostCallError
	if errors.As(err, &hostErr) && hostErr.Trace != "" {
		response.Detail = hostErr.Trace
	}
	var batchErr *batchError
	if errors.As(err, &batchErr) {
		response.Detail = batchErr.detail
	}
	return response
}

// stringField extracts a required string field from a payload.
func stringField(payload map[string]any, key string) (string, error) {
	value, ok := payload[key]
	if !ok || value == nil {
		return "", missingField(key)
	}
	s, ok := value.(string)
	if !ok {
		return "", &ValidationError{Field: key, Reason: "must be a string"}
	}
	return s, nil
}

// optionalString extracts an optional string field, returning fallback
// when the key is absent.
func optionalString(payload map[string]any, key, fallback string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return fallback
}

// stringListField extracts a required list-of-strings field.
func stringListField(payload map[string]any, key string) ([]string, error) {
	value, ok := payload[key]
	if !ok || value == nil {
		return nil, missingField(key)
	}
	items, ok := value.([]any)
	if !ok {
		return nil, &ValidationError{Field: key, Reason: "must be a list of strings"}
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &ValidationError{Field: key, Reason: "must be a list of strings"}
		}
		result = append(result, s)
	}
	return result, nil
}

// mappingField extracts an optional string-keyed mapping field.
func mappingField(payload map[string]any, key string) (map[string]any, error) {
	value, ok := payload[key]
	if !ok || value == nil {
		return nil, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: key, Reason: "must be a mapping"}
	}
	return m, nil
}
