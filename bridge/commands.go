// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/polyfactory/hostbridge/lib/version"
)

// maxBatchCommands bounds a single batch request.
const maxBatchCommands = 100

// RegisterHostCommands installs the standard command set on the
// server's registry. Handlers reach the host exclusively through the
// gateway; everything else (state, selection bookkeeping, server
// introspection) is answered on the session goroutine.
func RegisterHostCommands(s *Server) {
	c := &commandSet{server: s}
	r := s.registry

	r.Register("ping", nil, c.ping)
	r.Register("get_server_info", nil, c.getServerInfo)

	r.Register("create_node", []string{"node_type"}, c.createNode)
	r.Register("delete_node", []string{"node_path"}, c.deleteNode)
	r.Register("set_parameter", []string{"node_path", "parameter", "value"}, c.setParameter)
	r.Register("get_parameter", []string{"node_path", "parameter"}, c.getParameter)
	r.Register("get_node_info", []string{"node_path"}, c.getNodeInfo)
	r.Register("get_selection", nil, c.getSelection)
	r.Register("select_nodes", []string{"nodes"}, c.selectNodes)
	r.Register("execute_script", []string{"code"}, c.executeScript)
	r.Register("save_scene", nil, c.saveScene)
	r.Register("load_scene", []string{"filepath"}, c.loadScene)

	r.Register("get_session_state", nil, c.getSessionState)
	r.Register("set_session_state", []string{"key"}, c.setSessionState)
	r.Register("reset_session_state", nil, c.resetSessionState)

	r.Register("set_approval_mode", []string{"mode"}, c.setApprovalMode)
	r.Register("batch", []string{"commands"}, c.batch)
}

// commandSet holds the handler methods. One instance per server.
type commandSet struct {
	server *Server
}

// invoke funnels a host call through the gateway and narrows the
// result to the response payload shape.
func (c *commandSet) invoke(ctx context.Context, call HostCall) (any, error) {
	return c.server.gateway.Invoke(ctx, call)
}

func (c *commandSet) ping(ctx context.Context, call *Call) (map[string]any, error) {
	return map[string]any{"pong": true}, nil
}

func (c *commandSet) getServerInfo(ctx context.Context, call *Call) (map[string]any, error) {
	mode := c.server.approvals.Mode()
	if call.Session != nil {
		mode = call.Session.ApprovalMode()
	}
	return map[string]any{
		"version":       version.Version,
		"port":          c.server.Port(),
		"connections":   c.server.SessionCount(),
		"approval_mode": mode.String(),
		"commands":      c.server.registry.Kinds(),
	}, nil
}

func (c *commandSet) createNode(ctx context.Context, call *Call) (map[string]any, error) {
	payload := call.Command.Payload
	nodeType, err := stringField(payload, "node_type")
	if err != nil {
		return nil, err
	}
	parentPath := optionalString(payload, "parent_path", "/obj")
	name := optionalString(payload, "node_name", "")
	parameters, err := mappingField(payload, "parameters")
	if err != nil {
		return nil, err
	}

	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.CreateNode(parentPath, nodeType, name, parameters)
	})
	if err != nil {
		return nil, err
	}
	return result.(NodeSummary).asMap(), nil
}

func (c *commandSet) deleteNode(ctx context.Context, call *Call) (map[string]any, error) {
	nodePath, err := stringField(call.Command.Payload, "node_path")
	if err != nil {
		return nil, err
	}
	_, err = c.invoke(ctx, func(h Host) (any, error) {
		return nil, h.DeleteNode(nodePath)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": nodePath}, nil
}

func (c *commandSet) setParameter(ctx context.Context, call *Call) (map[string]any, error) {
	payload := call.Command.Payload
	nodePath, err := stringField(payload, "node_path")
	if err != nil {
		return nil, err
	}
	parameter, err := stringField(payload, "parameter")
	if err != nil {
		return nil, err
	}
	value := payload["value"]

	_, err = c.invoke(ctx, func(h Host) (any, error) {
		return nil, h.SetParameter(nodePath, parameter, value)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"node_path": nodePath,
		"parameter": parameter,
		"value":     value,
	}, nil
}

func (c *commandSet) getParameter(ctx context.Context, call *Call) (map[string]any, error) {
	payload := call.Command.Payload
	nodePath, err := stringField(payload, "node_path")
	if err != nil {
		return nil, err
	}
	parameter, err := stringField(payload, "parameter")
	if err != nil {
		return nil, err
	}

	value, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.GetParameter(nodePath, parameter)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"node_path": nodePath,
		"parameter": parameter,
		"value":     value,
	}, nil
}

func (c *commandSet) getNodeInfo(ctx context.Context, call *Call) (map[string]any, error) {
	nodePath, err := stringField(call.Command.Payload, "node_path")
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.DescribeNode(nodePath)
	})
	if err != nil {
		return nil, err
	}
	return result.(NodeInfo).asMap(), nil
}

func (c *commandSet) getSelection(ctx context.Context, call *Call) (map[string]any, error) {
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.Selection()
	})
	if err != nil {
		return nil, err
	}
	selection := result.([]string)
	return map[string]any{
		"selection": selection,
		"count":     len(selection),
	}, nil
}

func (c *commandSet) selectNodes(ctx context.Context, call *Call) (map[string]any, error) {
	paths, err := stringListField(call.Command.Payload, "nodes")
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.SelectNodes(paths)
	})
	if err != nil {
		return nil, err
	}
	selected := result.([]string)
	return map[string]any{
		"selected": selected,
		"count":    len(selected),
	}, nil
}

func (c *commandSet) executeScript(ctx context.Context, call *Call) (map[string]any, error) {
	code, err := stringField(call.Command.Payload, "code")
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.ExecuteScript(code)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func (c *commandSet) saveScene(ctx context.Context, call *Call) (map[string]any, error) {
	filepath := optionalString(call.Command.Payload, "filepath", "")
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.SaveScene(filepath)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"filepath": result.(string)}, nil
}

func (c *commandSet) loadScene(ctx context.Context, call *Call) (map[string]any, error) {
	filepath, err := stringField(call.Command.Payload, "filepath")
	if err != nil {
		return nil, err
	}
	result, err := c.invoke(ctx, func(h Host) (any, error) {
		return h.LoadScene(filepath)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"filepath": result.(string)}, nil
}

func (c *commandSet) getSessionState(ctx context.Context, call *Call) (map[string]any, error) {
	key := optionalString(call.Command.Payload, "key", "")
	if key == "" {
		return map[string]any{"state": c.server.store.Snapshot()}, nil
	}
	value, _ := c.server.store.Get(key)
	return map[string]any{"key": key, "value": value}, nil
}

func (c *commandSet) setSessionState(ctx context.Context, call *Call) (map[string]any, error) {
	payload := call.Command.Payload
	key, err := stringField(payload, "key")
	if err != nil {
		return nil, err
	}
	value := payload["value"]

	c.server.store.Set(key, value)
	c.server.broadcaster.Broadcast(NewEvent("state_changed", map[string]any{
		"key":   key,
		"value": value,
	}))
	return map[string]any{"key": key, "value": value}, nil
}

func (c *commandSet) resetSessionState(ctx context.Context, call *Call) (map[string]any, error) {
	c.server.store.Reset()
	c.server.broadcaster.Broadcast(NewEvent("state_changed", map[string]any{
		"reset": true,
	}))
	return map[string]any{"reset": true}, nil
}

func (c *commandSet) setApprovalMode(ctx context.Context, call *Call) (map[string]any, error) {
	payload := call.Command.Payload
	name, err := stringField(payload, "mode")
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(name)
	if err != nil {
		return nil, err
	}

	scope := optionalString(payload, "scope", "global")
	switch scope {
	case "session":
		if call.Session == nil {
			return nil, &ValidationError{Field: "scope", Reason: "session scope requires a connection"}
		}
		call.Session.SetModeOverride(mode)
	case "global":
		c.server.approvals.SetMode(mode)
		c.server.broadcaster.Broadcast(NewEvent("approval_mode_changed", map[string]any{
			"mode": mode.String(),
		}))
	default:
		return nil, &ValidationError{Field: "scope", Reason: `must be "global" or "session"`}
	}

	return map[string]any{"mode": mode.String(), "scope": scope}, nil
}

// batch runs a list of sub-commands strictly in order, stopping at the
// first failure. No rollback: everything before the failure stays
// applied, and the failure detail says how far the batch got. Batches
// do not nest.
func (c *commandSet) batch(ctx context.Context, call *Call) (map[string]any, error) {
	items, ok := call.Command.Payload["commands"].([]any)
	if !ok {
		return nil, &ValidationError{Field: "commands", Reason: "must be a list of command mappings"}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "commands", Reason: "must not be empty"}
	}
	if len(items) > maxBatchCommands {
		return nil, &ValidationError{Field: "commands", Reason: fmt.Sprintf("at most %d commands per batch", maxBatchCommands)}
	}

	results := make([]any, 0, len(items))
	outcomes := make([]string, 0, len(items))
	for i, item := range items {
		payload, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Field: "commands", Reason: fmt.Sprintf("entry %d is not a mapping", i)}
		}
		kind, _ := payload["type"].(string)
		if kind == "" {
			return nil, &ValidationError{Field: "commands", Reason: fmt.Sprintf("entry %d is missing a type", i)}
		}
		if kind == "batch" {
			return nil, &ValidationError{Field: "commands", Reason: "batches do not nest"}
		}

		sub := Command{Kind: kind, Payload: payload}
		response := c.server.dispatcher.Dispatch(ctx, call.Session, sub)
		if !response.Success {
			outcomes = append(outcomes, fmt.Sprintf("%d %s: failed: %s", i, kind, response.Error))
			return nil, &batchError{
				index:   i,
				kind:    kind,
				message: response.Error,
				detail:  strings.Join(outcomes, "\n"),
			}
		}
		outcomes = append(outcomes, fmt.Sprintf("%d %s: ok", i, kind))
		results = append(results, map[string]any{
			"type": kind,
			"data": response.Data,
		})
	}

	return map[string]any{
		"results": results,
		"count":   len(results),
	}, nil
}

// batchError reports which sub-command sank a batch. The per-command
// outcome trail travels in the response's detail field.
type batchError struct {
	index   int
	kind    string
	message string
	detail  string
}

func (e *batchError) Error() string {
	return fmt.Sprintf("batch failed at command %d (%s): %s", e.index, e.kind, e.message)
}
