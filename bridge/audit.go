// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/polyfactory/hostbridge/lib/clock"
	"github.com/polyfactory/hostbridge/lib/codec"
)

// commandDomainKey is the BLAKE3 keyed-hash domain for command payload
// digests. The byte value is the ASCII domain name zero-padded to 32
// bytes — readable in hex dumps without weakening the keyed mode,
// which treats the key as opaque. Changing it invalidates all recorded
// digests.
var commandDomainKey = [32]byte{
	'h', 'o', 's', 't', 'b', 'r', 'i', 'd', 'g', 'e', '.',
	'c', 'o', 'm', 'm', 'a', 'n', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// AuditRecord is one line of the audit log.
type AuditRecord struct {
	// Time is the record timestamp in RFC 3339.
	Time string `json:"time"`

	// Session identifies the requesting session. Empty for
	// internally dispatched commands.
	Session string `json:"session,omitempty"`

	// Kind is the command kind.
	Kind string `json:"kind"`

	// Classification is "safe" or "destructive".
	Classification string `json:"classification"`

	// Outcome is "executing", "denied", or "timeout". The log records
	// the approval decision, not the host call's success — host
	// failures are the client's to observe.
	Outcome string `json:"outcome"`

	// PayloadDigest is the hex BLAKE3 keyed digest of the command's
	// deterministically encoded payload. Scripts and parameter values
	// are logged by digest, never by content, so the log stays small
	// and free of scene data.
	PayloadDigest string `json:"payload_digest"`
}

// AuditLog is an append-only JSONL record of every destructive command
// that passes approval (and every one that is denied or times out).
// Writes are serialized by a mutex; the log never calls into the host.
type AuditLog struct {
	clock clock.Clock

	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewAuditLog writes records to w. Pass the clock used by the server
// so tests can fix timestamps.
func NewAuditLog(w io.Writer, clk clock.Clock) *AuditLog {
	if clk == nil {
		clk = clock.Real()
	}
	return &AuditLog{clock: clk, w: w}
}

// OpenAuditLog opens (creating or appending) the audit file at path.
func OpenAuditLog(path string, clk clock.Clock) (*AuditLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	log := NewAuditLog(file, clk)
	log.c = file
	return log, nil
}

// Record appends one audit line.
func (l *AuditLog) Record(sessionID string, command Command, classification Classification, outcome string) error {
	digest, err := payloadDigest(command.Payload)
	if err != nil {
		return fmt.Errorf("digesting %s payload: %w", command.Kind, err)
	}

	record := AuditRecord{
		Time:           l.clock.Now().UTC().Format(time.RFC3339),
		Session:        sessionID,
		Kind:           command.Kind,
		Classification: classification.String(),
		Outcome:        outcome,
		PayloadDigest:  digest,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(line)
	return err
}

// Close closes the underlying file, if the log owns one.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// payloadDigest computes the hex BLAKE3 keyed digest of a payload's
// deterministic CBOR encoding. Deterministic encoding makes the digest
// a stable function of the payload's logical content — key order in
// the client's map does not matter.
func payloadDigest(payload map[string]any) (string, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return "", err
	}

	hasher, err := blake3.NewKeyed(commandDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("BLAKE3 keyed hash initialization failed: %w", err)
	}
	hasher.Write(encoded)

	var digest [32]byte
	hasher.Sum(digest[:0])
	return hex.EncodeToString(digest[:]), nil
}
