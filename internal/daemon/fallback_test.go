package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/thread"
)

func TestRefresherPollsWhileDisconnected(t *testing.T) {
	h := newHarness(t, snapshotHandler(
		[]model.Thread{{ID: "t1", ParticipantIDs: []string{"self", "peer"}}},
		nil,
	))

	b := bus.New()
	r := NewRefresher(b, h.svc, h.router, 20*time.Millisecond, nil)
	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.Event{Kind: bus.KindChannelDisconnected})

	deadline := time.Now().Add(2 * time.Second)
	for len(h.store.ListThreads(thread.FilterAll)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for fallback snapshot poll")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefresherDisabledByZeroInterval(t *testing.T) {
	h := newHarness(t, snapshotHandler(
		[]model.Thread{{ID: "t1"}},
		nil,
	))

	b := bus.New()
	r := NewRefresher(b, h.svc, h.router, 0, nil)
	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.Event{Kind: bus.KindChannelDisconnected})
	time.Sleep(50 * time.Millisecond)

	if got := len(h.store.ListThreads(thread.FilterAll)); got != 0 {
		t.Errorf("store has %d threads, want 0 (fallback disabled)", got)
	}
}
