// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/polyfactory/hostbridge/bridge"
)

// consolePrompter surfaces confirmation requests on the terminal.
// Prompts are serialized: one question at a time, answered with y/N.
// An unanswerable terminal (EOF on stdin) denies.
type consolePrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsolePrompter(in io.Reader, out io.Writer) *consolePrompter {
	return &consolePrompter{in: bufio.NewReader(in), out: out}
}

func (p *consolePrompter) Prompt(request bridge.PromptRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	severity := ""
	if request.Destructive {
		severity = " [destructive]"
	}
	fmt.Fprintf(p.out, "\n=== approval %s%s ===\n%s\n%s\nApprove? [y/N] ",
		request.ID, severity, request.Description, request.Preview)

	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
