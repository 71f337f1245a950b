// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/polyfactory/hostbridge/bridge"
)

// memoryHost is a self-contained Host implementation backed by a map
// of nodes. It mimics the shape of a real content tool's node graph
// closely enough to exercise every command end to end: paths nest
// under /obj, node names are uniquified, parameters are dynamic.
//
// The gateway is its only caller, so no locking is needed.
type memoryHost struct {
	logger    *slog.Logger
	nodes     map[string]*memoryNode
	selection []string
	scenePath string
}

type memoryNode struct {
	name       string
	nodeType   string
	position   []float64
	parameters map[string]bridge.ParameterInfo
}

func newMemoryHost(logger *slog.Logger) *memoryHost {
	return &memoryHost{
		logger:    logger,
		nodes:     make(map[string]*memoryNode),
		scenePath: "untitled.hip",
	}
}

// uniqueName appends a numeric suffix until the name is free under
// parentPath, the way content tools uniquify sibling names.
func (h *memoryHost) uniqueName(parentPath, base string) string {
	if _, taken := h.nodes[parentPath+"/"+base]; !taken {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, taken := h.nodes[parentPath+"/"+candidate]; !taken {
			return candidate
		}
	}
}

func (h *memoryHost) CreateNode(parentPath, nodeType, name string, parameters map[string]any) (bridge.NodeSummary, error) {
	if name == "" {
		name = nodeType
	}
	name = h.uniqueName(parentPath, name)
	path := parentPath + "/" + name

	node := &memoryNode{
		name:       name,
		nodeType:   nodeType,
		position:   []float64{0, 0},
		parameters: make(map[string]bridge.ParameterInfo),
	}
	for parameter, value := range parameters {
		node.parameters[parameter] = bridge.ParameterInfo{Value: value, Label: parameter}
	}
	h.nodes[path] = node

	h.logger.Debug("created node", "path", path, "type", nodeType)
	return bridge.NodeSummary{Path: path, Type: nodeType, Name: name}, nil
}

func (h *memoryHost) DeleteNode(nodePath string) error {
	if _, ok := h.nodes[nodePath]; !ok {
		return fmt.Errorf("node not found: %s", nodePath)
	}
	delete(h.nodes, nodePath)

	// Children go with the parent.
	prefix := nodePath + "/"
	for path := range h.nodes {
		if strings.HasPrefix(path, prefix) {
			delete(h.nodes, path)
		}
	}
	h.logger.Debug("deleted node", "path", nodePath)
	return nil
}

func (h *memoryHost) SetParameter(nodePath, parameter string, value any) error {
	node, ok := h.nodes[nodePath]
	if !ok {
		return fmt.Errorf("node not found: %s", nodePath)
	}
	info := node.parameters[parameter]
	info.Value = value
	if info.Label == "" {
		info.Label = parameter
	}
	node.parameters[parameter] = info
	return nil
}

func (h *memoryHost) GetParameter(nodePath, parameter string) (any, error) {
	node, ok := h.nodes[nodePath]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", nodePath)
	}
	info, ok := node.parameters[parameter]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s.%s", nodePath, parameter)
	}
	return info.Value, nil
}

func (h *memoryHost) DescribeNode(nodePath string) (bridge.NodeInfo, error) {
	node, ok := h.nodes[nodePath]
	if !ok {
		return bridge.NodeInfo{}, fmt.Errorf("node not found: %s", nodePath)
	}
	parameters := make(map[string]bridge.ParameterInfo, len(node.parameters))
	for name, info := range node.parameters {
		parameters[name] = info
	}
	return bridge.NodeInfo{
		Path:            nodePath,
		Name:            node.name,
		Type:            node.nodeType,
		TypeDescription: node.nodeType + " (in-memory)",
		Position:        append([]float64(nil), node.position...),
		Parameters:      parameters,
	}, nil
}

func (h *memoryHost) Selection() ([]string, error) {
	return append([]string(nil), h.selection...), nil
}

func (h *memoryHost) SelectNodes(paths []string) ([]string, error) {
	selected := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := h.nodes[path]; ok {
			selected = append(selected, path)
		}
	}
	sort.Strings(selected)
	h.selection = selected
	return selected, nil
}

func (h *memoryHost) ExecuteScript(code string) (any, error) {
	// The in-memory host has no scripting runtime. Returning an error
	// (rather than silently succeeding) keeps client behavior honest.
	return nil, &bridge.HostCallError{
		Message: "execute_script is not supported by the in-memory host",
	}
}

func (h *memoryHost) SaveScene(filepath string) (string, error) {
	if filepath != "" {
		h.scenePath = filepath
	}
	h.logger.Debug("saved scene", "path", h.scenePath, "nodes", len(h.nodes))
	return h.scenePath, nil
}

func (h *memoryHost) LoadScene(filepath string) (string, error) {
	// Loading replaces the graph wholesale.
	h.nodes = make(map[string]*memoryNode)
	h.selection = nil
	h.scenePath = filepath
	h.logger.Debug("loaded scene", "path", filepath)
	return filepath, nil
}
