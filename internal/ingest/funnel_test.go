package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/notify"
	"github.com/plumahq/messaging/internal/presence"
	"github.com/plumahq/messaging/internal/thread"
	"github.com/plumahq/messaging/internal/typing"
)

type fixture struct {
	bus     *bus.Bus
	store   *thread.Store
	tracker *presence.Tracker
	typing  *typing.Coordinator
	notifs  *notify.Center
}

type noopSender struct{}

func (noopSender) TypingStart(string) error { return nil }
func (noopSender) TypingStop(string) error  { return nil }

func startFunnel(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:     bus.New(),
		tracker: presence.NewTracker(nil),
		typing:  typing.NewCoordinator(noopSender{}, nil, nil),
		notifs:  notify.NewCenter(nil),
	}
	f.store = thread.NewStore("self", nil, nil, nil)
	f.store.LoadSnapshot([]model.Thread{{ID: "t1", ParticipantIDs: []string{"self", "peer"}}}, nil)

	funnel := NewFunnel(f.bus, f.store, f.tracker, f.typing, f.notifs, nil, nil)
	funnel.Start(context.Background())
	t.Cleanup(funnel.Stop)
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFunnelRoutesMessageEvents(t *testing.T) {
	f := startFunnel(t)

	f.bus.Publish(bus.Event{
		Kind: bus.KindPushMessage,
		Payload: &model.NewMessageEvent{
			ThreadID: "t1",
			Message:  model.Message{ID: "m1", ThreadID: "t1", SenderID: "peer", Text: "hi", CreatedAt: time.Now()},
		},
	})

	waitFor(t, func() bool {
		th, ok := f.store.GetThread("t1")
		return ok && th.LastMessage == "hi"
	}, "timeout waiting for message to reach the store")
}

func TestFunnelRoutesTypingAndPresence(t *testing.T) {
	f := startFunnel(t)

	f.bus.Publish(bus.Event{
		Kind:    bus.KindPushTyping,
		Payload: &model.TypingEvent{UserID: "peer", ThreadID: "t1", Typing: true},
	})
	f.bus.Publish(bus.Event{
		Kind:    bus.KindPushPresence,
		Payload: &model.PresenceUpdateEvent{UserID: "peer", Status: model.StatusOnline, Timestamp: time.Now()},
	})

	waitFor(t, func() bool {
		return len(f.typing.TypingUsers("t1")) == 1
	}, "timeout waiting for typing flag")
	waitFor(t, func() bool {
		p, ok := f.tracker.Get("peer")
		return ok && p.Status == model.StatusOnline
	}, "timeout waiting for presence update")
}

func TestFunnelRoutesNotifications(t *testing.T) {
	f := startFunnel(t)

	f.bus.Publish(bus.Event{
		Kind:    bus.KindPushNotification,
		Payload: &model.Notification{ID: "n1", Type: "message", Text: "new message"},
	})
	waitFor(t, func() bool {
		return f.notifs.UnreadCount() == 1
	}, "timeout waiting for notification")

	f.bus.Publish(bus.Event{
		Kind:    bus.KindPushNotifsRead,
		Payload: &model.NotificationsReadEvent{All: true},
	})
	waitFor(t, func() bool {
		return f.notifs.UnreadCount() == 0
	}, "timeout waiting for notifications read")
}
