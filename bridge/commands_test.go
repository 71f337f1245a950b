// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polyfactory/hostbridge/lib/clock"
)

// fakeHost is an in-memory Host that records calls and simulates a
// tiny node graph.
type fakeHost struct {
	mu        sync.Mutex
	calls     []string
	nodes     map[string]NodeInfo
	selection []string
	failNext  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{nodes: map[string]NodeInfo{
		"/obj/existing": {
			Path: "/obj/existing",
			Name: "existing",
			Type: "geo",
			Parameters: map[string]ParameterInfo{
				"tx": {Value: 1.5, Label: "Translate X", Type: "float"},
			},
		},
	}}
}

func (h *fakeHost) record(format string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
	if err := h.failNext; err != nil {
		h.failNext = nil
		return err
	}
	return nil
}

func (h *fakeHost) CreateNode(parentPath, nodeType, name string, parameters map[string]any) (NodeSummary, error) {
	if err := h.record("create %s/%s (%s)", parentPath, name, nodeType); err != nil {
		return NodeSummary{}, err
	}
	if name == "" {
		name = nodeType + "1"
	}
	path := parentPath + "/" + name
	h.mu.Lock()
	h.nodes[path] = NodeInfo{Path: path, Name: name, Type: nodeType}
	h.mu.Unlock()
	return NodeSummary{Path: path, Type: nodeType, Name: name}, nil
}

func (h *fakeHost) DeleteNode(nodePath string) error {
	if err := h.record("delete %s", nodePath); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[nodePath]; !ok {
		return fmt.Errorf("node not found: %s", nodePath)
	}
	delete(h.nodes, nodePath)
	return nil
}

func (h *fakeHost) SetParameter(nodePath, parameter string, value any) error {
	if err := h.record("set %s.%s = %v", nodePath, parameter, value); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[nodePath]
	if !ok {
		return fmt.Errorf("node not found: %s", nodePath)
	}
	if node.Parameters == nil {
		node.Parameters = make(map[string]ParameterInfo)
	}
	info := node.Parameters[parameter]
	info.Value = value
	node.Parameters[parameter] = info
	h.nodes[nodePath] = node
	return nil
}

func (h *fakeHost) GetParameter(nodePath, parameter string) (any, error) {
	if err := h.record("get %s.%s", nodePath, parameter); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[nodePath]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", nodePath)
	}
	parm, ok := node.Parameters[parameter]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", parameter)
	}
	return parm.Value, nil
}

func (h *fakeHost) DescribeNode(nodePath string) (NodeInfo, error) {
	if err := h.record("describe %s", nodePath); err != nil {
		return NodeInfo{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[nodePath]
	if !ok {
		return NodeInfo{}, fmt.Errorf("node not found: %s", nodePath)
	}
	return node, nil
}

func (h *fakeHost) Selection() ([]string, error) {
	if err := h.record("selection"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.selection...), nil
}

func (h *fakeHost) SelectNodes(paths []string) ([]string, error) {
	if err := h.record("select %v", paths); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	selected := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := h.nodes[path]; ok {
			selected = append(selected, path)
		}
	}
	h.selection = selected
	return selected, nil
}

func (h *fakeHost) ExecuteScript(code string) (any, error) {
	if err := h.record("script"); err != nil {
		return nil, err
	}
	return "script ran", nil
}

func (h *fakeHost) SaveScene(filepath string) (string, error) {
	if err := h.record("save %s", filepath); err != nil {
		return "", err
	}
	if filepath == "" {
		return "/scenes/current.hip", nil
	}
	return filepath, nil
}

func (h *fakeHost) LoadScene(filepath string) (string, error) {
	if err := h.record("load %s", filepath); err != nil {
		return "", err
	}
	return filepath, nil
}

// newTestServer wires a fully registered server whose gateway drains a
// fakeHost for the duration of the test. Approvals auto-accept.
func newTestServer(t *testing.T) (*Server, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	server := NewServer(Options{
		Mode:     ModeAuto,
		Prompter: PrompterFunc(func(PromptRequest) bool { return true }),
		Clock:    clock.Fake(time.Unix(1700000000, 0)),
	})
	RegisterHostCommands(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.gateway.Run(ctx, host)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return server, host
}

// dispatch runs one command through the server's dispatcher without a
// connection.
func dispatch(server *Server, kind string, payload map[string]any) Response {
	if payload == nil {
		payload = map[string]any{}
	}
	return server.dispatcher.Dispatch(context.Background(), nil, Command{Kind: kind, Payload: payload})
}

func TestPingCommand(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "ping", nil)
	if !response.Success || response.Data["pong"] != true {
		t.Fatalf("response: %+v", response)
	}
}

func TestCreateNodeCommand(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	response := dispatch(server, "create_node", map[string]any{
		"node_type":  "geo",
		"node_name":  "box",
		"parameters": map[string]any{"tx": 1.0},
	})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if response.Data["node_path"] != "/obj/box" || response.Data["node_type"] != "geo" {
		t.Fatalf("data: %v", response.Data)
	}
	if len(host.calls) != 1 || !strings.HasPrefix(host.calls[0], "create /obj/box") {
		t.Fatalf("host calls: %v", host.calls)
	}
}

func TestCreateNodeDefaultsParent(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "create_node", map[string]any{"node_type": "geo"})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if path := response.Data["node_path"].(string); !strings.HasPrefix(path, "/obj/") {
		t.Fatalf("node_path %q not under default parent", path)
	}
}

func TestDeleteNodeCommand(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	response := dispatch(server, "delete_node", map[string]any{"node_path": "/obj/existing"})
	if !response.Success || response.Data["deleted"] != "/obj/existing" {
		t.Fatalf("response: %+v", response)
	}
	if _, ok := host.nodes["/obj/existing"]; ok {
		t.Fatal("node survived deletion")
	}
}

func TestDeleteNodeMissingPathRejected(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	response := dispatch(server, "delete_node", nil)
	if response.Success {
		t.Fatal("expected validation failure")
	}
	if len(host.calls) != 0 {
		t.Fatalf("invalid command reached the host: %v", host.calls)
	}
}

func TestSetAndGetParameter(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	set := dispatch(server, "set_parameter", map[string]any{
		"node_path": "/obj/existing",
		"parameter": "tx",
		"value":     2.5,
	})
	if !set.Success || set.Data["value"] != 2.5 {
		t.Fatalf("set response: %+v", set)
	}

	get := dispatch(server, "get_parameter", map[string]any{
		"node_path": "/obj/existing",
		"parameter": "tx",
	})
	if !get.Success || get.Data["value"] != 2.5 {
		t.Fatalf("get response: %+v", get)
	}
}

func TestGetNodeInfoCommand(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "get_node_info", map[string]any{"node_path": "/obj/existing"})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if response.Data["path"] != "/obj/existing" || response.Data["type"] != "geo" {
		t.Fatalf("data: %v", response.Data)
	}
	parameters := response.Data["parameters"].(map[string]any)
	if parameters["tx"].(map[string]any)["value"] != 1.5 {
		t.Fatalf("parameters: %v", parameters)
	}
}

func TestSelectionCommands(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	selected := dispatch(server, "select_nodes", map[string]any{
		"nodes": []any{"/obj/existing", "/obj/ghost"},
	})
	if !selected.Success || selected.Data["count"] != 1 {
		t.Fatalf("select response: %+v", selected)
	}

	selection := dispatch(server, "get_selection", nil)
	if !selection.Success || selection.Data["count"] != 1 {
		t.Fatalf("selection response: %+v", selection)
	}
}

func TestExecuteScriptCommand(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "execute_script", map[string]any{"code": "result = 1 + 1"})
	if !response.Success || response.Data["result"] != "script ran" {
		t.Fatalf("response: %+v", response)
	}
}

func TestSceneCommands(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	saved := dispatch(server, "save_scene", nil)
	if !saved.Success || saved.Data["filepath"] != "/scenes/current.hip" {
		t.Fatalf("save response: %+v", saved)
	}

	loaded := dispatch(server, "load_scene", map[string]any{"filepath": "/scenes/other.hip"})
	if !loaded.Success || loaded.Data["filepath"] != "/scenes/other.hip" {
		t.Fatalf("load response: %+v", loaded)
	}
}

func TestSessionStateCommands(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	events := make(chan []byte, 8)
	server.broadcaster.Subscribe("observer", events)

	set := dispatch(server, "set_session_state", map[string]any{"key": "stage", "value": "layout"})
	if !set.Success {
		t.Fatalf("set response: %+v", set)
	}
	if len(events) != 1 {
		t.Fatalf("%d events broadcast, want 1", len(events))
	}

	get := dispatch(server, "get_session_state", map[string]any{"key": "stage"})
	if !get.Success || get.Data["value"] != "layout" {
		t.Fatalf("get response: %+v", get)
	}

	all := dispatch(server, "get_session_state", nil)
	if !all.Success {
		t.Fatalf("snapshot response: %+v", all)
	}
	if state := all.Data["state"].(map[string]any); state["stage"] != "layout" {
		t.Fatalf("snapshot: %v", state)
	}

	reset := dispatch(server, "reset_session_state", nil)
	if !reset.Success {
		t.Fatalf("reset response: %+v", reset)
	}
	if server.store.Len() != 0 {
		t.Fatal("store not cleared")
	}

	missing := dispatch(server, "get_session_state", map[string]any{"key": "stage"})
	if !missing.Success || missing.Data["value"] != nil {
		t.Fatalf("missing-key response: %+v", missing)
	}
}

func TestSetApprovalModeGlobal(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "set_approval_mode", map[string]any{"mode": "preview"})
	if !response.Success || response.Data["scope"] != "global" {
		t.Fatalf("response: %+v", response)
	}
	if server.approvals.Mode() != ModePreview {
		t.Fatal("global mode not applied")
	}
}

func TestSetApprovalModeValidation(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	if response := dispatch(server, "set_approval_mode", map[string]any{"mode": "yolo"}); response.Success {
		t.Fatal("invalid mode accepted")
	}
	if response := dispatch(server, "set_approval_mode", map[string]any{"mode": "auto", "scope": "galaxy"}); response.Success {
		t.Fatal("invalid scope accepted")
	}
	// Session scope without a connection has no session to scope to.
	if response := dispatch(server, "set_approval_mode", map[string]any{"mode": "auto", "scope": "session"}); response.Success {
		t.Fatal("session scope accepted without a session")
	}
}

func TestGetServerInfo(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	response := dispatch(server, "get_server_info", nil)
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if response.Data["approval_mode"] != "auto" {
		t.Fatalf("data: %v", response.Data)
	}
	kinds := response.Data["commands"].([]string)
	if len(kinds) == 0 {
		t.Fatal("no commands advertised")
	}
}

func TestBatchCommand(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	response := dispatch(server, "batch", map[string]any{
		"commands": []any{
			map[string]any{"type": "create_node", "node_type": "geo", "node_name": "a"},
			map[string]any{"type": "set_parameter", "node_path": "/obj/a", "parameter": "tx", "value": 1.0},
			map[string]any{"type": "ping"},
		},
	})
	if !response.Success {
		t.Fatalf("response: %+v", response)
	}
	if response.Data["count"] != 3 {
		t.Fatalf("data: %v", response.Data)
	}
	if len(host.calls) != 2 {
		t.Fatalf("host calls: %v", host.calls)
	}
}

func TestBatchFailFast(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	response := dispatch(server, "batch", map[string]any{
		"commands": []any{
			map[string]any{"type": "create_node", "node_type": "geo", "node_name": "a"},
			map[string]any{"type": "delete_node", "node_path": "/obj/ghost"},
			map[string]any{"type": "create_node", "node_type": "geo", "node_name": "never"},
		},
	})
	if response.Success {
		t.Fatal("expected batch failure")
	}
	if !strings.Contains(response.Error, "command 1") || !strings.Contains(response.Error, "delete_node") {
		t.Fatalf("error %q does not locate the failure", response.Error)
	}
	if !strings.Contains(response.Detail, "0 create_node: ok") {
		t.Fatalf("detail %q missing outcome trail", response.Detail)
	}

	// Fail-fast, no rollback: the first create happened, the third
	// never ran.
	if _, ok := host.nodes["/obj/a"]; !ok {
		t.Fatal("first command was rolled back")
	}
	if _, ok := host.nodes["/obj/never"]; ok {
		t.Fatal("command after the failure executed")
	}
}

func TestBatchValidation(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	if response := dispatch(server, "batch", map[string]any{"commands": []any{}}); response.Success {
		t.Fatal("empty batch accepted")
	}
	if response := dispatch(server, "batch", map[string]any{
		"commands": []any{map[string]any{"type": "batch", "commands": []any{}}},
	}); response.Success || !strings.Contains(response.Error, "nest") {
		t.Fatalf("nested batch: %+v", response)
	}
	if response := dispatch(server, "batch", map[string]any{
		"commands": []any{"not a mapping"},
	}); response.Success {
		t.Fatal("non-mapping entry accepted")
	}
}

func TestHostErrorPropagates(t *testing.T) {
	t.Parallel()

	server, host := newTestServer(t)
	host.failNext = &HostCallError{Message: "cook failed", Trace: "hou stack"}

	response := dispatch(server, "create_node", map[string]any{"node_type": "geo"})
	if response.Success {
		t.Fatal("expected host failure")
	}
	if response.Error != "cook failed" || response.Detail != "hou stack" {
		t.Fatalf("response: %+v", response)
	}
}
