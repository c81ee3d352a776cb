package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
)

// fakeConn feeds scripted frames to the read loop and records writes.
// Close (or dropConn) closes the frame channel, so a blocked ReadMessage
// returns an error the way a reset socket would.
type fakeConn struct {
	mu        sync.Mutex
	frames    chan []byte
	writes    []model.CommandEnvelope
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.frames
	if !ok {
		return 0, nil, errors.New("connection reset")
	}
	return 1, data, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.writes = append(c.writes, v.(model.CommandEnvelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.frames) })
	return nil
}

// dropConn simulates the server side resetting the connection.
func (c *fakeConn) dropConn() {
	c.closeOnce.Do(func() { close(c.frames) })
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentCommands() []model.CommandEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.CommandEnvelope(nil), c.writes...)
}

// fakeDialer returns scripted connections (or errors) in order, then
// fails every further dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []Conn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	if conn == nil {
		return nil, errors.New("dial refused")
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testRouter(t *testing.T, dialer Dialer) (*Router, *bus.Bus) {
	t.Helper()
	b := bus.New()
	r := NewRouter(dialer, "ws://push.test/ws", "token", NewMachine(b), b, nil)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(r.Teardown)
	return r, b
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

func TestInitDispatchesEvents(t *testing.T) {
	conn := newFakeConn()
	r, b := testRouter(t, &fakeDialer{conns: []Conn{conn}})

	ch, unsub := b.Subscribe(bus.NSPush, 10)
	defer unsub()

	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.State() != Connected {
		t.Fatalf("state = %s, want Connected", r.State())
	}

	payload, _ := json.Marshal(model.NewMessageEvent{
		ThreadID: "t1",
		Message:  model.Message{ID: "m1", ThreadID: "t1", Text: "hi"},
	})
	frame, _ := json.Marshal(model.PushEnvelope{Event: model.EventNewMessage, Payload: payload})
	conn.frames <- frame

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindPushMessage {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindPushMessage)
		}
		msg, ok := evt.Payload.(*model.NewMessageEvent)
		if !ok || msg.Message.ID != "m1" {
			t.Errorf("payload = %+v, want decoded new message", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push event")
	}
}

func TestInitReentrant(t *testing.T) {
	dialer := &fakeDialer{conns: []Conn{newFakeConn()}}
	r, _ := testRouter(t, dialer)

	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (second Init is a no-op)", got)
	}
}

func TestCommandsRequireConnection(t *testing.T) {
	r, _ := testRouter(t, &fakeDialer{})

	if err := r.TypingStart("t1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := r.JoinThread("t1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("join err = %v, want ErrNotConnected", err)
	}
	// The room is still remembered for the eventual connect.
	if rooms := r.Rooms(); len(rooms) != 1 || rooms[0] != "t1" {
		t.Errorf("rooms = %v, want [t1]", rooms)
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	r, _ := testRouter(t, &fakeDialer{conns: []Conn{conn1, conn2}})

	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.JoinThread("tA"); err != nil {
		t.Fatal(err)
	}
	if err := r.JoinThread("tB"); err != nil {
		t.Fatal(err)
	}

	// Kill the first connection; the read loop redials.
	conn1.dropConn()

	waitFor(t, func() bool {
		return len(conn2.sentCommands()) >= 2 && r.State() == Connected
	}, "timeout waiting for reconnect and rejoin")

	var rejoined []string
	for _, cmd := range conn2.sentCommands() {
		if cmd.Action == model.CommandJoinThread {
			rejoined = append(rejoined, cmd.ThreadID)
		}
	}
	sort.Strings(rejoined)
	if len(rejoined) != 2 || rejoined[0] != "tA" || rejoined[1] != "tB" {
		t.Errorf("rejoined = %v, want [tA tB]", rejoined)
	}
}

func TestReconnectExhaustsAndDisconnects(t *testing.T) {
	conn1 := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn1}}
	r, b := testRouter(t, dialer)

	ch, unsub := b.Subscribe(bus.KindChannelDisconnected, 10)
	defer unsub()

	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn1.dropConn()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnected event")
	}
	if r.State() != Disconnected {
		t.Errorf("state = %s, want Disconnected after exhausted retries", r.State())
	}
	// Initial dial plus the bounded retries.
	if got := dialer.dialCount(); got != 1+maxReconnectAttempts {
		t.Errorf("dials = %d, want %d", got, 1+maxReconnectAttempts)
	}
}

func TestTeardownStopsReadLoop(t *testing.T) {
	conn := newFakeConn()
	r, _ := testRouter(t, &fakeDialer{conns: []Conn{conn}})

	if err := r.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Teardown()

	if r.State() != Disconnected {
		t.Errorf("state = %s, want Disconnected", r.State())
	}
	if !conn.isClosed() {
		t.Error("connection should be closed")
	}
	// Teardown twice is safe.
	r.Teardown()
}
