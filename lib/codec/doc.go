// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for every envelope the
// bridge sends or receives. All encoding goes through this package so
// that the encoder configuration (deterministic encoding, string-keyed
// map decoding, signed integer conversion) is applied uniformly.
package codec
