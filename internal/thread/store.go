package thread

import (
	"sort"
	"sync"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/reaction"
	"go.uber.org/zap"
)

// Filter selects which threads ListThreads returns.
type Filter int

const (
	// FilterInbox returns accepted threads only.
	FilterInbox Filter = iota
	// FilterRequests returns pending, unaccepted threads.
	FilterRequests
	// FilterAll returns everything.
	FilterAll
)

// maxBuffered bounds how many events referencing an unknown thread are
// held back per thread before older ones are dropped.
const maxBuffered = 32

type threadState struct {
	thread   model.Thread
	messages []model.Message // arrival order, not timestamp order
}

// Store is the canonical in-memory model of threads, participants and
// messages. Snapshot loads and push events funnel through it so there is
// one source of truth; every merge is idempotent and order-tolerant.
// Reactions are delegated to the embedded ledger and attached to message
// copies on read.
type Store struct {
	mu       sync.RWMutex
	selfID   string
	threads  map[string]*threadState
	msgIndex map[string]string // messageID -> threadID
	seen     map[string]map[string]model.SeenMark
	buffered map[string][]any
	open     string
	settings model.Settings

	reactions *reaction.Ledger
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a store for the given viewer. b and logger may be nil.
func NewStore(selfID string, ledger *reaction.Ledger, b *bus.Bus, logger *zap.Logger) *Store {
	if ledger == nil {
		ledger = reaction.NewLedger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		selfID:    selfID,
		threads:   make(map[string]*threadState),
		msgIndex:  make(map[string]string),
		seen:      make(map[string]map[string]model.SeenMark),
		buffered:  make(map[string][]any),
		reactions: ledger,
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

// Reactions exposes the embedded ledger for read access.
func (s *Store) Reactions() *reaction.Ledger { return s.reactions }

// OpenThread marks a thread as the one the viewer is looking at and
// clears the viewer's unread count for it.
func (s *Store) OpenThread(threadID string) {
	s.mu.Lock()
	s.open = threadID
	ts, ok := s.threads[threadID]
	if ok && ts.thread.UnreadCounts[s.selfID] != 0 {
		ts.thread.UnreadCounts[s.selfID] = 0
	}
	s.mu.Unlock()
	if ok {
		s.publishThread(threadID)
	}
}

// CloseThread clears the open marker if it still points at threadID.
func (s *Store) CloseThread(threadID string) {
	s.mu.Lock()
	if s.open == threadID {
		s.open = ""
	}
	s.mu.Unlock()
}

// OpenThreadID returns the currently open thread, or "".
func (s *Store) OpenThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// GetThread returns a copy of one thread.
func (s *Store) GetThread(id string) (model.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.threads[id]
	if !ok {
		return model.Thread{}, false
	}
	return copyThread(ts.thread), true
}

// ListThreads returns matching threads sorted by last activity, newest
// first.
func (s *Store) ListThreads(f Filter) []model.Thread {
	s.mu.RLock()
	out := make([]model.Thread, 0, len(s.threads))
	for _, ts := range s.threads {
		switch f {
		case FilterInbox:
			if ts.thread.IsRequest {
				continue
			}
		case FilterRequests:
			if !ts.thread.IsRequest {
				continue
			}
		}
		out = append(out, copyThread(ts.thread))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Messages returns copies of a thread's messages in arrival order, with
// current reaction lists attached.
func (s *Store) Messages(threadID string) []model.Message {
	s.mu.RLock()
	ts, ok := s.threads[threadID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	out := make([]model.Message, len(ts.messages))
	copy(out, ts.messages)
	s.mu.RUnlock()

	for i := range out {
		out[i].Reactions = s.reactions.List(out[i].ID)
	}
	return out
}

// SeenMarks returns the other participants' seen marks for a thread.
// Returns nothing while the viewer's seen-indicator setting is off.
func (s *Store) SeenMarks(threadID string) []model.SeenMark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.settings.ShowSeenIndicators {
		return nil
	}
	marks := s.seen[threadID]
	if len(marks) == 0 {
		return nil
	}
	out := make([]model.SeenMark, 0, len(marks))
	for userID, mark := range marks {
		if userID == s.selfID {
			continue
		}
		out = append(out, mark)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Settings returns the viewer's messaging preferences.
func (s *Store) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the viewer's messaging preferences.
func (s *Store) SetSettings(settings model.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// UpsertThread adds a single thread outside a snapshot load, used when
// the viewer starts a new conversation. An existing thread keeps its
// message list; membership and flags follow the argument.
func (s *Store) UpsertThread(t model.Thread) {
	s.mu.Lock()
	if t.UnreadCounts == nil {
		t.UnreadCounts = make(map[string]int)
	}
	if prev, ok := s.threads[t.ID]; ok {
		prev.thread = t
	} else {
		s.threads[t.ID] = &threadState{thread: t}
	}
	s.mu.Unlock()
	s.publishThread(t.ID)
}

// AcceptRequest transitions a request thread to a normal one.
func (s *Store) AcceptRequest(threadID string) bool {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if ok {
		ts.thread.IsRequest = false
	}
	s.mu.Unlock()
	if ok {
		s.publishThread(threadID)
	}
	return ok
}

// RemoveThread drops a thread locally, used for declined requests and
// per-viewer deletes. The durable soft-delete is the gateway's concern.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if ok {
		for _, m := range ts.messages {
			delete(s.msgIndex, m.ID)
			s.reactions.Forget(m.ID)
		}
		delete(s.threads, threadID)
		delete(s.seen, threadID)
		delete(s.buffered, threadID)
		if s.open == threadID {
			s.open = ""
		}
	}
	s.mu.Unlock()
}

// SetMuted toggles the viewer's mute flag on a thread. Muted threads keep
// accruing unread counts; only notification emission is suppressed.
func (s *Store) SetMuted(threadID string, muted bool) {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if ok {
		ts.thread.MutedBy = setMember(ts.thread.MutedBy, s.selfID, muted)
	}
	s.mu.Unlock()
	if ok {
		s.publishThread(threadID)
	}
}

// MutedBySelf reports whether the viewer muted the thread.
func (s *Store) MutedBySelf(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return false
	}
	for _, id := range ts.thread.MutedBy {
		if id == s.selfID {
			return true
		}
	}
	return false
}

func (s *Store) publishThread(threadID string) {
	if s.bus == nil {
		return
	}
	if t, ok := s.GetThread(threadID); ok {
		s.bus.Publish(bus.Event{Kind: bus.KindThreadUpdated, Timestamp: s.now(), Payload: t})
	}
}

func copyThread(t model.Thread) model.Thread {
	out := t
	out.ParticipantIDs = append([]string(nil), t.ParticipantIDs...)
	out.Participants = append([]model.User(nil), t.Participants...)
	out.MutedBy = append([]string(nil), t.MutedBy...)
	out.UnreadCounts = make(map[string]int, len(t.UnreadCounts))
	for k, v := range t.UnreadCounts {
		out.UnreadCounts[k] = v
	}
	return out
}

func setMember(set []string, id string, present bool) []string {
	idx := -1
	for i, v := range set {
		if v == id {
			idx = i
			break
		}
	}
	if present && idx < 0 {
		return append(set, id)
	}
	if !present && idx >= 0 {
		return append(set[:idx], set[idx+1:]...)
	}
	return set
}
