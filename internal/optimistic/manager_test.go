package optimistic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plumahq/messaging/internal/gateway"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/thread"
)

const self = "self"

// fakeGateway scripts send/seen/reaction outcomes.
type fakeGateway struct {
	sendErr     error
	seenErr     error
	reactionErr error

	sent      []gateway.SendMessageRequest
	added     []string
	removed   []string
	seenCalls int
}

func (f *fakeGateway) SendMessage(_ context.Context, threadID string, req gateway.SendMessageRequest) (*model.Message, error) {
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &model.Message{
		ID:        "srv-1",
		ThreadID:  threadID,
		SenderID:  self,
		Text:      req.Text,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeGateway) MarkSeen(_ context.Context, threadID string) error {
	f.seenCalls++
	return f.seenErr
}

func (f *fakeGateway) AddReaction(_ context.Context, messageID, emoji string) error {
	f.added = append(f.added, messageID+":"+emoji)
	return f.reactionErr
}

func (f *fakeGateway) RemoveReaction(_ context.Context, messageID, emoji string) error {
	f.removed = append(f.removed, messageID+":"+emoji)
	return f.reactionErr
}

func testSetup(t *testing.T, gw Gateway) (*Manager, *thread.Store) {
	t.Helper()
	store := thread.NewStore(self, nil, nil, nil)
	store.LoadSnapshot([]model.Thread{{
		ID:             "t1",
		ParticipantIDs: []string{self, "peer"},
	}}, nil)
	return NewManager(gw, store, self, nil, nil), store
}

func TestSendSuccess(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	store.OpenThread("t1")

	msg, err := m.Send(context.Background(), "t1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" {
		t.Errorf("confirmed ID = %q, want srv-1", msg.ID)
	}

	msgs := store.Messages("t1")
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Pending {
		t.Errorf("messages = %+v, want the confirmed message in place", msgs)
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	store.OpenThread("t1")

	if _, err := m.Send(context.Background(), "t1", "", nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if len(gw.sent) != 0 {
		t.Error("empty send should never reach the gateway")
	}
	if got := len(store.Messages("t1")); got != 0 {
		t.Errorf("got %d messages, want 0 (no optimistic apply)", got)
	}
}

func TestSendAttachmentOnly(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	store.OpenThread("t1")

	att := &model.Attachment{URL: "https://cdn/a.png", Type: "image", Name: "a.png"}
	if _, err := m.Send(context.Background(), "t1", "", att); err != nil {
		t.Fatal(err)
	}
	if len(gw.sent) != 1 || gw.sent[0].AttachmentURL != "https://cdn/a.png" {
		t.Errorf("sent = %+v, want attachment forwarded", gw.sent)
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("gateway down")}
	m, store := testSetup(t, gw)
	store.OpenThread("t1")

	_, err := m.Send(context.Background(), "t1", "doomed", nil)
	if err == nil {
		t.Fatal("send should fail")
	}

	if got := len(store.Messages("t1")); got != 0 {
		t.Errorf("got %d messages, want 0 (pending entry removed)", got)
	}
	th, _ := store.GetThread("t1")
	if th.LastMessage != "" {
		t.Errorf("preview = %q, want rolled back", th.LastMessage)
	}
	if got := m.Draft("t1"); got != "doomed" {
		t.Errorf("draft = %q, want the composer text recoverable", got)
	}
}

func TestSendResolvesAgainstOriginThread(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	store.LoadSnapshot([]model.Thread{
		{ID: "t1", ParticipantIDs: []string{self, "peer"}},
		{ID: "t2", ParticipantIDs: []string{self, "other"}},
	}, nil)
	store.OpenThread("t1")

	op, err := m.BeginSend("t1", "mid-switch", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Viewer switches threads between the optimistic apply and the
	// durable commit.
	store.CloseThread("t1")
	store.OpenThread("t2")

	if _, err := m.CommitSend(context.Background(), op.LocalID); err != nil {
		t.Fatal(err)
	}

	store.OpenThread("t1")
	msgs := store.Messages("t1")
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Errorf("t1 messages = %v, want the confirmed send", msgs)
	}
	if got := len(store.Messages("t2")); got != 0 {
		t.Errorf("t2 messages = %d, want 0", got)
	}
}

func TestCommitUnknownSend(t *testing.T) {
	m, _ := testSetup(t, &fakeGateway{})
	if _, err := m.CommitSend(context.Background(), "local-nope"); !errors.Is(err, ErrUnknownSend) {
		t.Errorf("err = %v, want ErrUnknownSend", err)
	}
}

func TestReactToggleAndReplace(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	ledger := store.Reactions()

	if err := m.React(context.Background(), "m1", "❤️"); err != nil {
		t.Fatal(err)
	}
	if r, ok := ledger.Get("m1", self); !ok || r.Emoji != "❤️" {
		t.Fatalf("reaction = %+v, want ❤️ set", r)
	}

	// Different emoji replaces: durable remove of the old slot first.
	if err := m.React(context.Background(), "m1", "👍"); err != nil {
		t.Fatal(err)
	}
	if len(gw.removed) != 1 || gw.removed[0] != "m1:❤️" {
		t.Errorf("removed = %v, want the prior emoji removed", gw.removed)
	}
	if r, _ := ledger.Get("m1", self); r.Emoji != "👍" {
		t.Errorf("emoji = %q, want 👍", r.Emoji)
	}

	// Same emoji toggles off.
	if err := m.React(context.Background(), "m1", "👍"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ledger.Get("m1", self); ok {
		t.Error("reaction should be removed after toggle")
	}
}

func TestReactFailureRestoresPrior(t *testing.T) {
	gw := &fakeGateway{}
	m, store := testSetup(t, gw)
	ledger := store.Reactions()

	if err := m.React(context.Background(), "m1", "❤️"); err != nil {
		t.Fatal(err)
	}

	gw.reactionErr = errors.New("gateway down")
	if err := m.React(context.Background(), "m1", "👍"); err == nil {
		t.Fatal("react should fail")
	}

	if r, ok := ledger.Get("m1", self); !ok || r.Emoji != "❤️" {
		t.Errorf("reaction = %+v, want prior ❤️ restored", r)
	}
}

func TestReactFailureWithoutPrior(t *testing.T) {
	gw := &fakeGateway{reactionErr: errors.New("gateway down")}
	m, store := testSetup(t, gw)

	if err := m.React(context.Background(), "m1", "❤️"); err == nil {
		t.Fatal("react should fail")
	}
	if _, ok := store.Reactions().Get("m1", self); ok {
		t.Error("failed first reaction should be rolled back to absent")
	}
}

func TestMarkSeenRollsBackOnFailure(t *testing.T) {
	gw := &fakeGateway{seenErr: errors.New("gateway down")}
	m, store := testSetup(t, gw)

	store.ApplyEvent(&model.NewMessageEvent{
		ThreadID: "t1",
		Message:  model.Message{ID: "m1", ThreadID: "t1", SenderID: "peer", Text: "hi", CreatedAt: time.Now()},
	})

	if err := m.MarkSeen(context.Background(), "t1"); err == nil {
		t.Fatal("mark seen should fail")
	}

	th, _ := store.GetThread("t1")
	if got := th.UnreadCounts[self]; got != 1 {
		t.Errorf("unread = %d, want 1 restored after rollback", got)
	}
}

func TestMarkSeenUnknownThread(t *testing.T) {
	m, _ := testSetup(t, &fakeGateway{})
	if err := m.MarkSeen(context.Background(), "nope"); !errors.Is(err, ErrUnknownThread) {
		t.Errorf("err = %v, want ErrUnknownThread", err)
	}
}
