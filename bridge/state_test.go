// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"sync"
	"testing"
)

func TestStateStoreBasics(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	if _, ok := store.Get("missing"); ok {
		t.Fatal("empty store should have no keys")
	}

	store.Set("stage", "blocking")
	store.Set("iteration", int64(3))

	value, ok := store.Get("stage")
	if !ok || value != "blocking" {
		t.Fatalf("Get(stage) = %v, %v", value, ok)
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d", store.Len())
	}

	store.Set("stage", "lighting")
	if value, _ := store.Get("stage"); value != "lighting" {
		t.Fatalf("overwrite failed: %v", value)
	}

	store.Reset()
	if store.Len() != 0 {
		t.Fatalf("Len after Reset = %d", store.Len())
	}
}

func TestStateStoreSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	store.Set("a", int64(1))

	snapshot := store.Snapshot()
	snapshot["a"] = int64(99)
	snapshot["b"] = "injected"

	if value, _ := store.Get("a"); value != int64(1) {
		t.Fatal("mutating a snapshot must not touch the store")
	}
	if _, ok := store.Get("b"); ok {
		t.Fatal("mutating a snapshot must not touch the store")
	}
}

func TestStateStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Set("shared", n)
				store.Get("shared")
				store.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if _, ok := store.Get("shared"); !ok {
		t.Fatal("key lost under concurrent writes")
	}
}
