// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. Fatal is the one
// legitimate raw-stderr path in the daemons: it reports errors that
// occur before the structured logger exists.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
