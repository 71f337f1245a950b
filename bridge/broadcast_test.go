// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"testing"
	"time"

	"github.com/polyfactory/hostbridge/lib/codec"
	"github.com/polyfactory/hostbridge/lib/testutil"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	broadcaster := NewBroadcaster(nil)
	first := make(chan []byte, 4)
	second := make(chan []byte, 4)
	broadcaster.Subscribe("s1", first)
	broadcaster.Subscribe("s2", second)

	broadcaster.Broadcast(NewEvent("state_changed", map[string]any{"key": "stage"}))

	for name, queue := range map[string]chan []byte{"s1": first, "s2": second} {
		payload := testutil.RequireReceive(t, queue, time.Second, "event for %s", name)

		var event map[string]any
		if err := codec.Unmarshal(payload, &event); err != nil {
			t.Fatalf("%s: decoding event: %v", name, err)
		}
		if event["event"] != "state_changed" {
			t.Fatalf("%s: event %v", name, event)
		}
	}
}

func TestBroadcastSkipsSlowSubscriber(t *testing.T) {
	t.Parallel()

	broadcaster := NewBroadcaster(nil)
	full := make(chan []byte) // unbuffered with no reader: always full
	healthy := make(chan []byte, 1)
	broadcaster.Subscribe("slow", full)
	broadcaster.Subscribe("healthy", healthy)

	// Must not block even though "slow" can never accept.
	broadcaster.Broadcast(NewEvent("state_changed", nil))

	testutil.RequireReceive(t, healthy, time.Second, "healthy subscriber's event")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	broadcaster := NewBroadcaster(nil)
	queue := make(chan []byte, 4)
	broadcaster.Subscribe("s1", queue)
	broadcaster.Unsubscribe("s1")
	broadcaster.Unsubscribe("s1") // unknown ID is fine

	broadcaster.Broadcast(NewEvent("state_changed", nil))

	select {
	case <-queue:
		t.Fatal("unsubscribed session received an event")
	default:
	}
	if broadcaster.Count() != 0 {
		t.Fatalf("Count = %d", broadcaster.Count())
	}
}
