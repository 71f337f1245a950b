// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for components with timeout behavior,
// so tests can drive deadlines deterministically instead of sleeping.
package clock
