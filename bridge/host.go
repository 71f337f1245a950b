// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

// Host is the automation surface of the content-creation application
// the bridge drives. Every method is synchronous, side-effecting, and
// safe to call only from the host's designated execution context — the
// gateway is the sole caller, and it guarantees single-context,
// single-in-flight execution. Implementations must not be called from
// session goroutines directly.
//
// Faults should be returned as errors; a *HostCallError preserves a
// host-side stack trace for the client. Panics are tolerated — the
// gateway converts them to HostCallError with the captured Go stack.
type Host interface {
	// CreateNode creates a node of nodeType under parentPath,
	// optionally named and with initial parameter values applied.
	CreateNode(parentPath, nodeType, name string, parameters map[string]any) (NodeSummary, error)

	// DeleteNode removes the node at nodePath.
	DeleteNode(nodePath string) error

	// SetParameter sets one parameter on the node at nodePath.
	SetParameter(nodePath, parameter string, value any) error

	// GetParameter evaluates one parameter on the node at nodePath.
	GetParameter(nodePath, parameter string) (any, error)

	// DescribeNode returns full node details including all parameters.
	DescribeNode(nodePath string) (NodeInfo, error)

	// Selection returns the paths of the currently selected nodes.
	Selection() ([]string, error)

	// SelectNodes replaces the current selection with the nodes at the
	// given paths, skipping paths that do not resolve. Returns the
	// paths actually selected.
	SelectNodes(paths []string) ([]string, error)

	// ExecuteScript runs arbitrary code in the host's scripting
	// environment and returns the value bound to the name "result",
	// or nil when the script binds nothing.
	ExecuteScript(code string) (any, error)

	// SaveScene saves the current scene, to filepath when non-empty or
	// in place otherwise. Returns the scene's resulting path.
	SaveScene(filepath string) (string, error)

	// LoadScene replaces the current scene with the file at filepath.
	// Returns the loaded scene's path.
	LoadScene(filepath string) (string, error)
}

// NodeSummary identifies a node that was just created.
type NodeSummary struct {
	Path string
	Type string
	Name string
}

// NodeInfo is the full description of a node.
type NodeInfo struct {
	Path            string
	Name            string
	Type            string
	TypeDescription string
	Position        []float64
	Parameters      map[string]ParameterInfo
}

// ParameterInfo describes one parameter of a node.
type ParameterInfo struct {
	Value any
	Label string
	Type  string
}

// asMap converts a NodeSummary to the response payload shape.
func (n NodeSummary) asMap() map[string]any {
	return map[string]any{
		"node_path": n.Path,
		"node_type": n.Type,
		"name":      n.Name,
	}
}

// asMap converts a NodeInfo to the response payload shape.
func (n NodeInfo) asMap() map[string]any {
	parameters := make(map[string]any, len(n.Parameters))
	for name, parm := range n.Parameters {
		parameters[name] = map[string]any{
			"value": parm.Value,
			"label": parm.Label,
			"type":  parm.Type,
		}
	}
	return map[string]any{
		"path":             n.Path,
		"name":             n.Name,
		"type":             n.Type,
		"type_description": n.TypeDescription,
		"position":         n.Position,
		"parameters":       parameters,
	}
}
