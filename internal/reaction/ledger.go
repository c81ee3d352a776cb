package reaction

import (
	"sync"

	"github.com/plumahq/messaging/internal/model"
)

// Ledger owns per-message reaction slots. Invariant: at most one reaction
// per (message, user); a user changing emoji replaces their slot rather
// than adding a second one. Entries are kept in arrival order, so the last
// entry is the most recently added reaction.
type Ledger struct {
	mu        sync.RWMutex
	byMessage map[string][]model.Reaction
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byMessage: make(map[string][]model.Reaction)}
}

// Apply merges one reaction event. Replaying the same event twice never
// changes state. Returns whether anything changed.
func (l *Ledger) Apply(messageID string, r model.Reaction, action model.ReactionAction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byMessage[messageID]
	idx := indexOfUser(entries, r.UserID)

	switch action {
	case model.ReactionAdd:
		if idx >= 0 {
			if entries[idx].Emoji == r.Emoji {
				return false
			}
			// Emoji change: drop the old slot, append as newest.
			entries = append(entries[:idx], entries[idx+1:]...)
		}
		l.byMessage[messageID] = append(entries, r)
		return true
	case model.ReactionRemove:
		if idx < 0 || entries[idx].Emoji != r.Emoji {
			return false
		}
		entries = append(entries[:idx], entries[idx+1:]...)
		if len(entries) == 0 {
			delete(l.byMessage, messageID)
		} else {
			l.byMessage[messageID] = entries
		}
		return true
	}
	return false
}

// Toggle flips the caller's reaction: removes it when the emoji matches
// the current slot, otherwise sets (or replaces) the slot. Returns whether
// the reaction is present afterwards.
func (l *Ledger) Toggle(messageID string, r model.Reaction) bool {
	l.mu.RLock()
	current, ok := getUser(l.byMessage[messageID], r.UserID)
	l.mu.RUnlock()

	if ok && current.Emoji == r.Emoji {
		l.Apply(messageID, r, model.ReactionRemove)
		return false
	}
	l.Apply(messageID, r, model.ReactionAdd)
	return true
}

// Get returns a user's reaction on a message.
func (l *Ledger) Get(messageID, userID string) (model.Reaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return getUser(l.byMessage[messageID], userID)
}

// List returns a message's reactions in arrival order.
func (l *Ledger) List(messageID string) []model.Reaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byMessage[messageID]
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.Reaction, len(entries))
	copy(out, entries)
	return out
}

// Primary returns the most recently added reaction and the total count,
// for the indicator-with-badge rendering.
func (l *Ledger) Primary(messageID string) (model.Reaction, int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byMessage[messageID]
	if len(entries) == 0 {
		return model.Reaction{}, 0, false
	}
	return entries[len(entries)-1], len(entries), true
}

// Load replaces a message's reactions wholesale, used when snapshot data
// embeds reaction lists. Later entries win a duplicate user slot.
func (l *Ledger) Load(messageID string, reactions []model.Reaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byMessage, messageID)
	var entries []model.Reaction
	for _, r := range reactions {
		if idx := indexOfUser(entries, r.UserID); idx >= 0 {
			entries = append(entries[:idx], entries[idx+1:]...)
		}
		entries = append(entries, r)
	}
	if len(entries) > 0 {
		l.byMessage[messageID] = entries
	}
}

// Forget drops all reactions for a message.
func (l *Ledger) Forget(messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byMessage, messageID)
}

func indexOfUser(entries []model.Reaction, userID string) int {
	for i, r := range entries {
		if r.UserID == userID {
			return i
		}
	}
	return -1
}

func getUser(entries []model.Reaction, userID string) (model.Reaction, bool) {
	if idx := indexOfUser(entries, userID); idx >= 0 {
		return entries[idx], true
	}
	return model.Reaction{}, false
}
