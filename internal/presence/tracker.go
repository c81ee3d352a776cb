package presence

import (
	"sync"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
)

// Tracker owns the per-user presence map. It is the only component that
// mutates presence; everyone else reads through its methods.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]model.Presence
	bus   *bus.Bus
	now   func() time.Time
}

// NewTracker creates a tracker. b may be nil in tests.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		users: make(map[string]model.Presence),
		bus:   b,
		now:   time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

// SetStatus records a status change for a user. ts is the server-reported
// activity timestamp; a zero ts leaves the prior timestamps untouched.
func (t *Tracker) SetStatus(userID string, status model.PresenceStatus, ts time.Time) {
	t.mu.Lock()
	p := t.users[userID]
	p.UserID = userID
	p.Status = status
	if !ts.IsZero() {
		switch status {
		case model.StatusOnline, model.StatusAway:
			p.LastActiveAt = ts
		case model.StatusOffline:
			p.LastSeenAt = ts
		}
	}
	t.users[userID] = p
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindPresenceChanged,
			Timestamp: t.now(),
			Payload:   p,
		})
	}
}

// Get returns the known presence for a user.
func (t *Tracker) Get(userID string) (model.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[userID]
	return p, ok
}

// Classify renders a user's presence as display text: "Active now" for
// online, "Away" (with elapsed time when known) for away, and
// "Last seen {elapsed}" or "Offline" otherwise.
func (t *Tracker) Classify(userID string) string {
	t.mu.RLock()
	p, ok := t.users[userID]
	t.mu.RUnlock()
	if !ok {
		return "Offline"
	}
	return ClassifyAt(p, t.now())
}

// ClassifyAt is the pure formatting core of Classify, independent of the
// tracker's clock.
func ClassifyAt(p model.Presence, now time.Time) string {
	switch p.Status {
	case model.StatusOnline:
		return "Active now"
	case model.StatusAway:
		if p.LastActiveAt.IsZero() {
			return "Away"
		}
		return "Away " + FormatElapsed(now, p.LastActiveAt)
	default:
		ts := p.LastSeenAt
		if ts.IsZero() {
			ts = p.LastActiveAt
		}
		if ts.IsZero() {
			return "Offline"
		}
		return "Last seen " + FormatElapsed(now, ts)
	}
}
