// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the hostbridge command server: a localhost
// TCP listener that lets automation clients drive a single-threaded
// content-creation application over a persistent framed-CBOR
// connection.
//
// The package splits into a few cooperating pieces:
//
//   - frame codec (protocol.go): length-prefixed frames with optional
//     lz4 or zstd payload compression;
//   - envelopes (envelope.go): request, response, and event shapes;
//   - gateway (gateway.go): the single funnel through which every host
//     call passes, serializing all sessions onto the host's one
//     execution context;
//   - approval (approval.go): classification-driven confirmation of
//     destructive commands, with per-session mode overrides;
//   - server and sessions (server.go, session.go): the accept loop and
//     the per-connection reader/dispatcher/writer goroutines.
//
// Embedders construct a Server, register the standard command set with
// RegisterHostCommands, and pump the Gateway from the host's own
// thread or event loop. See cmd/hostbridged for a complete wiring.
package bridge
