// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"log/slog"
	"sync"

	"github.com/polyfactory/hostbridge/lib/codec"
)

// Broadcaster fans unsolicited events out to every connected session.
// Each session registers its outbound queue; delivery to one session
// never blocks on another — a session whose queue is full simply
// misses the event (logged), which is the correct trade for
// advisory notifications like state_changed.
type Broadcaster struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]chan<- []byte
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:      logger,
		subscribers: make(map[string]chan<- []byte),
	}
}

// Subscribe registers a session's outbound queue under its ID.
func (b *Broadcaster) Subscribe(sessionID string, queue chan<- []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sessionID] = queue
}

// Unsubscribe removes a session. Safe to call for an unknown ID.
func (b *Broadcaster) Unsubscribe(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sessionID)
}

// Broadcast encodes the event once and offers it to every subscriber's
// queue without blocking.
func (b *Broadcaster) Broadcast(event Event) {
	payload, err := codec.Marshal(event)
	if err != nil {
		b.logger.Error("encoding broadcast event", "event", event.Name, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sessionID, queue := range b.subscribers {
		select {
		case queue <- payload:
		default:
			b.logger.Warn("dropping event for slow session",
				"session", sessionID,
				"event", event.Name,
			)
		}
	}
}

// Count returns the number of subscribed sessions.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
