// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(1000, 0))

	ch := fake.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterFuncRunsInDeadlineOrder(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	var order []string
	fake.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	fake.AfterFunc(time.Second, func() { order = append(order, "first") })

	fake.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("callbacks ran in order %v, want [first second]", order)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}

	fake.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
	if got := fake.PendingWaiters(); got != 0 {
		t.Errorf("PendingWaiters after Advance = %d, want 0", got)
	}
}

func TestFakeImmediateDeadline(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	select {
	case <-fake.After(0):
	default:
		t.Error("After(0) did not fire immediately")
	}

	ran := false
	fake.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Error("AfterFunc(0) did not run synchronously")
	}
}
