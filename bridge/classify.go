// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Classification partitions command kinds by the safety of executing
// them unattended. It is derived from the kind alone — a pure
// function, never stored on the command.
type Classification int

const (
	// Safe commands are read-only queries (or bridge-local state
	// operations that never touch the host's scene).
	Safe Classification = iota

	// Destructive commands mutate host state or run arbitrary code.
	Destructive
)

// String returns the lowercase name used in logs and audit records.
func (c Classification) String() string {
	if c == Safe {
		return "safe"
	}
	return "destructive"
}

// defaultSafeKinds is the built-in allow-list of kinds that execute
// without confirmation under AUTO mode. Everything not listed here —
// including kinds the bridge has never heard of — classifies as
// destructive, so a policy mistake fails toward prompting.
var defaultSafeKinds = []string{
	"ping",
	"get_parameter",
	"get_node_info",
	"get_selection",
	"select_nodes",
	"get_session_state",
	"set_session_state",
	"reset_session_state",
	"set_approval_mode",
	"get_server_info",
	"batch",
}

// defaultDestructiveKinds lists the kinds that are destructive by
// design. Classify would treat them as destructive anyway (absent from
// the safe list); naming them lets a policy file move one to safe
// explicitly and documents the boundary.
var defaultDestructiveKinds = []string{
	"create_node",
	"delete_node",
	"set_parameter",
	"execute_script",
	"save_scene",
	"load_scene",
}

// Classifier maps command kinds to classifications using the built-in
// allow-list, optionally adjusted by an operator policy. Immutable
// after construction; safe for concurrent use.
type Classifier struct {
	safe map[string]bool
}

// NewClassifier returns the built-in classification.
func NewClassifier() *Classifier {
	safe := make(map[string]bool, len(defaultSafeKinds))
	for _, kind := range defaultSafeKinds {
		safe[kind] = true
	}
	return &Classifier{safe: safe}
}

// Classify returns the classification for a command kind. Unknown
// kinds are destructive.
func (c *Classifier) Classify(kind string) Classification {
	if c.safe[kind] {
		return Safe
	}
	return Destructive
}

// Policy is an operator override of the built-in classification,
// loaded from a JSONC file. Kinds listed under "safe" are reclassified
// as safe; kinds under "destructive" lose their safe standing.
type Policy struct {
	Safe        []string `json:"safe"`
	Destructive []string `json:"destructive"`
}

// LoadPolicy reads a classification policy file. The file is JSONC —
// JSON with comments and trailing commas — so operators can annotate
// why a kind was moved.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var policy Policy
	if err := json.Unmarshal(jsonc.ToJSON(data), &policy); err != nil {
		return nil, fmt.Errorf("parsing classification policy %s: %w", path, err)
	}
	return &policy, nil
}

// Apply returns a new Classifier with the policy's moves applied on
// top of c. The receiver is unchanged.
func (c *Classifier) Apply(policy *Policy) *Classifier {
	safe := make(map[string]bool, len(c.safe))
	for kind := range c.safe {
		safe[kind] = true
	}
	for _, kind := range policy.Safe {
		safe[kind] = true
	}
	for _, kind := range policy.Destructive {
		delete(safe, kind)
	}
	return &Classifier{safe: safe}
}
