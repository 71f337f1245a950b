// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for tests that coordinate
// goroutines over channels. The helpers fail the test instead of
// hanging when the other side never arrives.
package testutil
