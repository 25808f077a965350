package timer

import (
	"context"
	"sync"
	"testing"

	logx "tajmer/pkg/logx"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []Payload
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, id, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Payload{TimerID: id, Description: description})
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestExpiryRemovesTimerAndNotifies(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(newFakeScheduler(), nil, logx.Nop())
	notif := &fakeNotifier{}
	h := NewExpiryHandler(reg, notif, logx.Nop())
	ctx := context.Background()

	id, err := reg.Start(ctx, Command{DurationMinutes: 5, Description: "upali timer 5 min"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	h.HandleExpiry(ctx, Payload{TimerID: id, Description: "upali timer 5 min"})

	if got := reg.Active(); len(got) != 0 {
		t.Fatalf("Active = %+v, want empty after expiry", got)
	}
	if notif.count() != 1 {
		t.Fatalf("notify calls = %d, want 1", notif.count())
	}
	if notif.calls[0].Description != "upali timer 5 min" {
		t.Fatalf("notified description = %q", notif.calls[0].Description)
	}
}

func TestExpiryNotifiesEvenWhenRegistryEmpty(t *testing.T) {
	t.Parallel()
	// Cross-restart firing: the registry no longer holds the id, but the
	// durable job's invocation is the source of truth for "should fire".
	reg := NewRegistry(newFakeScheduler(), nil, logx.Nop())
	notif := &fakeNotifier{}
	h := NewExpiryHandler(reg, notif, logx.Nop())

	h.HandleExpiry(context.Background(), Payload{TimerID: "gone", Description: "after restart"})

	if notif.count() != 1 {
		t.Fatalf("notify calls = %d, want 1", notif.count())
	}
}

func TestExpiryIdempotent(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(newFakeScheduler(), nil, logx.Nop())
	notif := &fakeNotifier{}
	h := NewExpiryHandler(reg, notif, logx.Nop())
	ctx := context.Background()

	id, err := reg.Start(ctx, Command{DurationMinutes: 1})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Duplicate facility callbacks must not error; visible dedup is the
	// notifier's job (see notifier tests).
	h.HandleExpiry(ctx, Payload{TimerID: id})
	h.HandleExpiry(ctx, Payload{TimerID: id})

	if got := reg.Active(); len(got) != 0 {
		t.Fatalf("Active = %+v, want empty", got)
	}
}
