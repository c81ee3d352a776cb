package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/cache"
	"github.com/plumahq/messaging/internal/channel"
	"github.com/plumahq/messaging/internal/gateway"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/optimistic"
	"github.com/plumahq/messaging/internal/presence"
	"github.com/plumahq/messaging/internal/thread"
	"github.com/plumahq/messaging/internal/typing"
)

// stubConn satisfies channel.Conn with a read that blocks until closed.
type stubConn struct {
	mu     sync.Mutex
	writes []model.CommandEnvelope
	done   chan struct{}
	once   sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{done: make(chan struct{})}
}

func (c *stubConn) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, errors.New("closed")
}

func (c *stubConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v.(model.CommandEnvelope))
	return nil
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *stubConn) commands() []model.CommandEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.CommandEnvelope(nil), c.writes...)
}

type stubDialer struct {
	conn *stubConn
}

func (d *stubDialer) Dial(_ context.Context, _ string, _ http.Header) (channel.Conn, error) {
	return d.conn, nil
}

type harness struct {
	svc    *Service
	store  *thread.Store
	db     *cache.DB
	conn   *stubConn
	router *channel.Router
}

func newHarness(t *testing.T, handler http.Handler) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := bus.New()
	gw := gateway.NewClient(srv.URL, "token")
	store := thread.NewStore("self", nil, b, nil)

	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), "self")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	conn := newStubConn()
	router := channel.NewRouter(&stubDialer{conn: conn}, "ws://push.test/ws", "token", channel.NewMachine(b), b, nil)
	if err := router.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(router.Teardown)

	mgr := optimistic.NewManager(gw, store, "self", b, nil)
	coord := typing.NewCoordinator(router, b, nil)
	pinger := presence.NewPinger(router, nil)

	return &harness{
		svc:    NewService(gw, store, router, mgr, coord, pinger, db, nil),
		store:  store,
		db:     db,
		conn:   conn,
		router: router,
	}
}

func snapshotHandler(threads, requests []model.Thread) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /threads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(threads)
	})
	mux.HandleFunc("GET /threads/requests", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(requests)
	})
	mux.HandleFunc("GET /settings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Settings{ReadReceipts: true, ShowSeenIndicators: true})
	})
	return mux
}

func TestLoadSnapshotPopulatesStoreAndCache(t *testing.T) {
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, snapshotHandler(
		[]model.Thread{{ID: "t1", ParticipantIDs: []string{"self", "peer"}, LastMessage: "hi", LastMessageAt: at}},
		[]model.Thread{{ID: "r1", ParticipantIDs: []string{"self", "stranger"}}},
	))

	if err := h.svc.LoadSnapshot(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := len(h.store.ListThreads(thread.FilterInbox)); got != 1 {
		t.Errorf("inbox = %d threads, want 1", got)
	}
	if got := len(h.store.ListThreads(thread.FilterRequests)); got != 1 {
		t.Errorf("requests = %d threads, want 1", got)
	}
	if !h.store.Settings().ReadReceipts {
		t.Error("settings should follow the gateway response")
	}

	cached, err := h.db.Threads()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cache = %d threads, want 2 mirrored", len(cached))
	}
}

func TestWarmStartFromCache(t *testing.T) {
	h := newHarness(t, snapshotHandler(nil, nil))

	if err := h.db.UpsertThread(model.Thread{
		ID:            "t1",
		LastMessage:   "cached",
		LastMessageAt: time.Now(),
		UnreadCounts:  map[string]int{"self": 2},
	}); err != nil {
		t.Fatal(err)
	}

	h.svc.WarmStart()

	th, ok := h.store.GetThread("t1")
	if !ok {
		t.Fatal("warm start should seed the store from cache")
	}
	if th.LastMessage != "cached" || th.UnreadCounts["self"] != 2 {
		t.Errorf("thread = %+v", th)
	}
}

func TestOpenThreadJoinsRoomAndLoadsHistory(t *testing.T) {
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /threads/t1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.ThreadWithMessages{
			Thread: model.Thread{ID: "t1", ParticipantIDs: []string{"self", "peer"}},
			Messages: []model.Message{
				{ID: "m1", ThreadID: "t1", SenderID: "peer", Text: "hello", CreatedAt: at},
			},
		})
	})
	mux.HandleFunc("PUT /threads/t1/seen", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := newHarness(t, mux)

	if err := h.svc.OpenThread(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	msgs := h.store.Messages("t1")
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Errorf("messages = %v, want the fetched history", msgs)
	}

	var joined bool
	for _, cmd := range h.conn.commands() {
		if cmd.Action == model.CommandJoinThread && cmd.ThreadID == "t1" {
			joined = true
		}
	}
	if !joined {
		t.Error("open should join the thread room")
	}

	// History mirrored for the next warm start.
	cached, err := h.db.Messages("t1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 {
		t.Errorf("cache = %d messages, want 1", len(cached))
	}
}

func TestOpenThreadFallsBackToCache(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))

	h.store.LoadSnapshot([]model.Thread{{ID: "t1", ParticipantIDs: []string{"self", "peer"}}}, nil)
	if err := h.db.UpsertMessage(model.Message{
		ID: "m1", ThreadID: "t1", SenderID: "peer", Text: "from cache", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.OpenThread(context.Background(), "t1"); err == nil {
		t.Fatal("open should surface the gateway error")
	}

	msgs := h.store.Messages("t1")
	if len(msgs) != 1 || msgs[0].Text != "from cache" {
		t.Errorf("messages = %v, want cached history shown", msgs)
	}
}

func TestDeclineRequestRemovesLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /threads/r1/request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := newHarness(t, mux)

	h.store.LoadSnapshot(nil, []model.Thread{{ID: "r1"}})
	if err := h.db.UpsertThread(model.Thread{ID: "r1", IsRequest: true}); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.DeclineRequest(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	if _, ok := h.store.GetThread("r1"); ok {
		t.Error("declined request should be gone from the store")
	}
	cached, _ := h.db.Threads()
	if len(cached) != 0 {
		t.Error("declined request should be gone from the cache")
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, snapshotHandler(nil, nil))
	if _, err := h.svc.SearchUsers(context.Background(), ""); err == nil {
		t.Error("empty query should be rejected without a network call")
	}
}
