package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/metrics"
	"github.com/plumahq/messaging/internal/model"
	"go.uber.org/zap"
)

const (
	maxReconnectAttempts = 5
	reconnectBackoff     = time.Second
)

// ErrNotConnected is returned by commands while the channel is down.
var ErrNotConnected = errors.New("push channel not connected")

// Conn is the subset of *websocket.Conn the router uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a channel connection.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla's default dialer.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Router owns the single persistent push connection for the session and
// multiplexes events for all subscribed rooms onto the bus. No other
// component holds the transport handle or opens a second connection.
type Router struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	dialer  Dialer
	url     string
	token   string
	machine *Machine
	bus     *bus.Bus
	logger  *zap.Logger

	conn   Conn
	rooms  map[string]struct{}
	cancel context.CancelFunc

	// sleep is swapped for a fake in reconnection tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter creates a router. The connection is not opened until Init.
func NewRouter(dialer Dialer, url, token string, machine *Machine, b *bus.Bus, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		dialer:  dialer,
		url:     url,
		token:   token,
		machine: machine,
		bus:     b,
		logger:  logger,
		rooms:   make(map[string]struct{}),
		sleep:   sleepCtx,
	}
}

// State returns the connection state.
func (r *Router) State() State { return r.machine.Current() }

// Init opens the connection and starts the serial read loop. Calling Init
// while already connected or connecting is a no-op.
func (r *Router) Init(ctx context.Context) error {
	r.mu.Lock()
	if s := r.machine.Current(); s == Connected || s == Connecting || s == Reconnecting {
		r.mu.Unlock()
		return nil
	}
	_ = r.machine.Transition(Connecting)

	conn, err := r.dial(ctx)
	if err != nil {
		_ = r.machine.Transition(Disconnected)
		r.mu.Unlock()
		return err
	}
	r.conn = conn

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	_ = r.machine.Transition(Connected)
	r.resubscribe()

	go r.readLoop(loopCtx)
	return nil
}

// Teardown closes the connection and stops the read loop. Idempotent.
func (r *Router) Teardown() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()

	if s := r.machine.Current(); s != Disconnected {
		_ = r.machine.Transition(Disconnected)
	}
}

// JoinThread subscribes the session to a thread room. The room is
// remembered locally and rejoined automatically after a reconnect, since
// the server forgets room membership across connections.
func (r *Router) JoinThread(threadID string) error {
	r.mu.Lock()
	r.rooms[threadID] = struct{}{}
	r.mu.Unlock()
	metrics.ActiveRooms.Set(float64(r.roomCount()))
	return r.send(model.CommandEnvelope{Action: model.CommandJoinThread, ThreadID: threadID})
}

// LeaveThread unsubscribes the session from a thread room.
func (r *Router) LeaveThread(threadID string) error {
	r.mu.Lock()
	delete(r.rooms, threadID)
	r.mu.Unlock()
	metrics.ActiveRooms.Set(float64(r.roomCount()))
	return r.send(model.CommandEnvelope{Action: model.CommandLeaveThread, ThreadID: threadID})
}

// Rooms returns the currently subscribed thread rooms.
func (r *Router) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

// TypingStart emits a typing start signal. Fire and forget.
func (r *Router) TypingStart(threadID string) error {
	return r.send(model.CommandEnvelope{Action: model.CommandTypingStart, ThreadID: threadID})
}

// TypingStop emits a typing stop signal. Fire and forget.
func (r *Router) TypingStop(threadID string) error {
	return r.send(model.CommandEnvelope{Action: model.CommandTypingStop, ThreadID: threadID})
}

// Activity emits an activity ping keeping the viewer's presence alive.
func (r *Router) Activity() error {
	return r.send(model.CommandEnvelope{Action: model.CommandActivity})
}

func (r *Router) dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)
	return r.dialer.Dial(ctx, r.url, header)
}

func (r *Router) send(cmd model.CommandEnvelope) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil || r.machine.Current() != Connected {
		return ErrNotConnected
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(cmd)
}

func (r *Router) roomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// resubscribe rejoins every remembered room after a (re)connect.
func (r *Router) resubscribe() {
	for _, threadID := range r.Rooms() {
		if err := r.send(model.CommandEnvelope{Action: model.CommandJoinThread, ThreadID: threadID}); err != nil {
			r.logger.Warn("room rejoin failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
}

// readLoop delivers events serially. Processing of one event completes
// before the next is read, so no event interleaves with a partially
// applied prior event.
func (r *Router) readLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("push channel read failed", zap.Error(err))
			if !r.reconnect(ctx) {
				return
			}
			continue
		}
		r.dispatch(data)
	}
}

func (r *Router) dispatch(data []byte) {
	var env model.PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("undecodable push frame", zap.Error(err))
		return
	}
	evt, err := model.DecodePushEvent(env)
	if err != nil {
		r.logger.Warn("undecodable push payload", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if evt == nil {
		r.logger.Debug("unknown push event", zap.String("event", env.Event))
		return
	}

	metrics.PushEvents.WithLabelValues(env.Event).Inc()
	r.bus.Publish(bus.Event{
		Kind:      kindForEvent(env.Event),
		Timestamp: time.Now(),
		Payload:   evt,
	})
}

// reconnect runs the bounded retry policy: up to 5 attempts with a fixed
// one second backoff, then a persistent disconnected state is surfaced
// rather than retrying forever.
func (r *Router) reconnect(ctx context.Context) bool {
	_ = r.machine.Transition(Reconnecting)

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := r.sleep(ctx, reconnectBackoff); err != nil {
			_ = r.machine.Transition(Disconnected)
			return false
		}
		metrics.ReconnectAttempts.Inc()

		conn, err := r.dial(ctx)
		if err != nil {
			r.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxReconnectAttempts),
				zap.Error(err))
			continue
		}

		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.conn = conn
		r.mu.Unlock()

		_ = r.machine.Transition(Connected)
		r.resubscribe()
		return true
	}

	r.logger.Error("push channel reconnect exhausted")
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()
	_ = r.machine.Transition(Disconnected)
	return false
}

func kindForEvent(event string) string {
	switch event {
	case model.EventNewMessage:
		return bus.KindPushMessage
	case model.EventMessageSeen:
		return bus.KindPushSeen
	case model.EventMessageReaction:
		return bus.KindPushReaction
	case model.EventTypingStart, model.EventTypingStop:
		return bus.KindPushTyping
	case model.EventPresenceUpdate:
		return bus.KindPushPresence
	case model.EventNotification:
		return bus.KindPushNotification
	case model.EventNotificationsRead:
		return bus.KindPushNotifsRead
	default:
		return bus.NSPush + "unknown"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
