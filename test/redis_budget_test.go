//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/halcyonlabs/authgate/session"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts the number of Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// Each pipeline call is one network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// newCountedStore creates a session.Store backed by miniredis with a
// cmdCounter hook installed. Reset the counter before each measured operation.
func newCountedStore(t *testing.T) (*session.Store, *cmdCounter, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	// Warm the connection: go-redis may emit extra commands on first use.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	store := session.NewStore(rdb, "asg")
	return store, counter, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestBudgetGetIsSingleCommand(t *testing.T) {
	ctx := context.Background()
	store, counter, cleanup := newCountedStore(t)
	defer cleanup()

	sess := makeSession("p1", "sid-budget-get", hashByte(1))
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	counter.Reset()
	if _, err := store.Get(ctx, "sid-budget-get"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got := counter.Commands(); got != 1 {
		t.Fatalf("expected lookup to cost exactly 1 command, got %d", got)
	}
}

func TestBudgetRotateIsSingleScriptCall(t *testing.T) {
	ctx := context.Background()
	store, counter, cleanup := newCountedStore(t)
	defer cleanup()

	current := hashByte(2)
	sess := makeSession("p1", "sid-budget-rotate", current)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// First call may pay the one-time EVAL after a NOSCRIPT miss;
	// the steady state is a single EVALSHA.
	next := hashByte(3)
	if _, err := store.Rotate(ctx, "sid-budget-rotate", current, next); err != nil {
		t.Fatalf("warm Rotate failed: %v", err)
	}

	counter.Reset()
	final := hashByte(4)
	if _, err := store.Rotate(ctx, "sid-budget-rotate", next, final); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if got := counter.Commands(); got != 1 {
		t.Fatalf("expected rotation to cost exactly 1 command, got %d", got)
	}
}

func TestBudgetSaveIsSingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, counter, cleanup := newCountedStore(t)
	defer cleanup()

	counter.Reset()
	sess := makeSession("p1", "sid-budget-save", hashByte(5))
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := counter.Pipelines(); got != 1 {
		t.Fatalf("expected save to use exactly 1 pipeline round-trip, got %d", got)
	}
}
