// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// HostCall is one unit of work to run on the host's execution context.
type HostCall func(host Host) (any, error)

// gatewayQueueDepth bounds the number of queued host calls. 256 is far
// beyond anything a drained host accumulates; hitting it means the
// host context has stalled, and callers get ErrHostBusy instead of
// blocking forever.
const gatewayQueueDepth = 256

// callResult carries a host call's outcome back to its waiter.
type callResult struct {
	value any
	err   error
}

// queuedCall pairs a host call with its result slot. The slot is a
// buffered channel owned by the gateway: the drain loop's send never
// blocks, so a waiter that vanished (disconnected session, cancelled
// context) cannot stall the queue.
type queuedCall struct {
	run    HostCall
	result chan callResult
}

// Gateway marshals host calls from session goroutines onto the host's
// single permitted execution context. Sessions submit through Invoke
// from any goroutine; the host's context drains the queue through Run
// (dedicated loop) or DrainPending (tick-driven). Calls execute
// strictly one at a time in global FIFO order, which also preserves
// per-session order since each session dispatches sequentially.
type Gateway struct {
	queue  chan queuedCall
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewGateway creates a gateway with the standard queue bound.
func NewGateway(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		queue:  make(chan queuedCall, gatewayQueueDepth),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Invoke submits a host call and blocks until the host context has
// executed it, the context is cancelled, or the gateway shuts down.
// Safe to call from any goroutine. A full queue fails fast with
// ErrHostBusy. Cancellation abandons the wait but not the call — host
// calls are not preemptible, and an already-queued call may still
// execute; its result is discarded into the gateway-owned slot.
func (g *Gateway) Invoke(ctx context.Context, call HostCall) (any, error) {
	queued := queuedCall{run: call, result: make(chan callResult, 1)}

	select {
	case <-g.closed:
		return nil, ErrServerClosed
	default:
	}

	select {
	case g.queue <- queued:
	default:
		return nil, ErrHostBusy
	}

	select {
	case result := <-queued.result:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.closed:
		return nil, ErrServerClosed
	}
}

// Run drains the queue until ctx is cancelled. Call it from the host's
// designated execution context — typically the application's main
// loop goroutine. Returns nil on normal shutdown.
func (g *Gateway) Run(ctx context.Context, host Host) error {
	for {
		select {
		case <-ctx.Done():
			g.Close()
			return nil
		case queued := <-g.queue:
			g.execute(host, queued)
		}
	}
}

// DrainPending executes every currently queued call and returns the
// number executed. For hosts that expose an idle tick instead of
// handing over a goroutine: call this once per tick from the host's
// execution context.
func (g *Gateway) DrainPending(host Host) int {
	executed := 0
	for {
		select {
		case queued := <-g.queue:
			g.execute(host, queued)
			executed++
		default:
			return executed
		}
	}
}

// Close rejects all future and in-wait invocations with
// ErrServerClosed. Idempotent.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.closed) })
}

// execute runs one host call and fulfills its result slot. A panic in
// the host call is recovered into a HostCallError carrying the stack,
// so one failing command never stops the drain loop.
func (g *Gateway) execute(host Host, queued queuedCall) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("host call panicked", "panic", r)
			queued.result <- callResult{err: &HostCallError{
				Message: fmt.Sprintf("host call panic: %v", r),
				Trace:   string(debug.Stack()),
			}}
		}
	}()

	value, err := queued.run(host)
	queued.result <- callResult{value: value, err: err}
}
