// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polyfactory/hostbridge/lib/clock"
)

func TestAuditRecordLine(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	log := NewAuditLog(&buffer, clock.Fake(time.Unix(1700000000, 0).UTC()))

	command := Command{Kind: "delete_node", Payload: map[string]any{"node_path": "/obj/box"}}
	if err := log.Record("abcd1234", command, Destructive, "executing"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var record AuditRecord
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if record.Time != "2023-11-14T22:13:20Z" {
		t.Errorf("time %q", record.Time)
	}
	if record.Session != "abcd1234" || record.Kind != "delete_node" {
		t.Errorf("record: %+v", record)
	}
	if record.Classification != "destructive" || record.Outcome != "executing" {
		t.Errorf("record: %+v", record)
	}
	if len(record.PayloadDigest) != 64 {
		t.Errorf("digest %q is not 32 hex bytes", record.PayloadDigest)
	}
	if bytes.Contains(buffer.Bytes(), []byte("/obj/box")) {
		t.Error("payload content leaked into the audit log")
	}
}

func TestAuditDigestIgnoresKeyOrder(t *testing.T) {
	t.Parallel()

	// Two payloads with identical content must digest identically;
	// the deterministic encoding sorts map keys.
	first, err := payloadDigest(map[string]any{"a": int64(1), "b": "x"})
	if err != nil {
		t.Fatalf("payloadDigest: %v", err)
	}
	second, err := payloadDigest(map[string]any{"b": "x", "a": int64(1)})
	if err != nil {
		t.Fatalf("payloadDigest: %v", err)
	}
	if first != second {
		t.Fatalf("digests differ: %s vs %s", first, second)
	}

	different, err := payloadDigest(map[string]any{"a": int64(2), "b": "x"})
	if err != nil {
		t.Fatalf("payloadDigest: %v", err)
	}
	if different == first {
		t.Fatal("different payloads must not collide")
	}
}

func TestOpenAuditLogAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	command := Command{Kind: "save_scene", Payload: map[string]any{}}

	for i := 0; i < 2; i++ {
		log, err := OpenAuditLog(path, clock.Fake(time.Unix(1700000000, 0)))
		if err != nil {
			t.Fatalf("OpenAuditLog: %v", err)
		}
		if err := log.Record("s1", command, Destructive, "executing"); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := log.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines++
		var record AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
	}
	if lines != 2 {
		t.Fatalf("got %d lines, want 2 (reopen must append)", lines)
	}
}
