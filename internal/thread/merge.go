package thread

import (
	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
	"go.uber.org/zap"
)

// LoadSnapshot replaces the working set wholesale with a bulk load of
// accepted threads and pending requests. Membership and request state are
// snapshot-authoritative; the lastMessage preview keeps whichever of the
// snapshot value and the current live value is newer, so reloading a
// snapshot never regresses a preview that a push event already advanced.
// Message lists survive for threads that persist across the load.
func (s *Store) LoadSnapshot(threads, requests []model.Thread) {
	s.mu.Lock()
	old := s.threads
	s.threads = make(map[string]*threadState, len(threads)+len(requests))

	load := func(t model.Thread, isRequest bool) {
		t.IsRequest = isRequest
		if t.UnreadCounts == nil {
			t.UnreadCounts = make(map[string]int)
		}
		ts := &threadState{thread: t}
		if prev, ok := old[t.ID]; ok {
			ts.messages = prev.messages
			if prev.thread.LastMessageAt.After(t.LastMessageAt) {
				ts.thread.LastMessage = prev.thread.LastMessage
				ts.thread.LastMessageAt = prev.thread.LastMessageAt
			}
		}
		s.threads[t.ID] = ts
	}
	for _, t := range threads {
		load(t, false)
	}
	for _, t := range requests {
		load(t, true)
	}

	// Drop index entries and seen marks for threads the snapshot no
	// longer contains. Background threads index message IDs without
	// holding the list, so the index is swept by thread rather than by
	// walking messages.
	dropped := false
	for id := range old {
		if _, ok := s.threads[id]; ok {
			continue
		}
		delete(s.seen, id)
		dropped = true
	}
	if dropped {
		for msgID, tid := range s.msgIndex {
			if _, ok := s.threads[tid]; ok {
				continue
			}
			delete(s.msgIndex, msgID)
			s.reactions.Forget(msgID)
		}
	}
	if _, ok := s.threads[s.open]; !ok {
		s.open = ""
	}

	replay := s.takeBuffered()
	s.mu.Unlock()

	for _, evt := range replay {
		s.ApplyEvent(evt)
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindSnapshotLoaded, Timestamp: s.now(), Payload: len(threads) + len(requests)})
	}
}

// LoadMessages replaces a thread's message history, normally from a
// single-thread gateway fetch. Embedded reaction lists move into the
// ledger. Buffered events for the thread are replayed afterwards.
func (s *Store) LoadMessages(threadID string, msgs []model.Message) {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("message load for unknown thread", zap.String("thread_id", threadID))
		return
	}
	for _, m := range ts.messages {
		delete(s.msgIndex, m.ID)
	}
	ts.messages = make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		s.reactions.Load(m.ID, m.Reactions)
		m.Reactions = nil
		ts.messages = append(ts.messages, m)
		s.msgIndex[m.ID] = threadID
	}
	if n := len(ts.messages); n > 0 {
		last := ts.messages[n-1]
		if last.CreatedAt.After(ts.thread.LastMessageAt) {
			ts.thread.LastMessage = last.Text
			ts.thread.LastMessageAt = last.CreatedAt
		}
	}
	replay := s.takeBufferedFor(threadID)
	s.mu.Unlock()

	for _, evt := range replay {
		s.ApplyEvent(evt)
	}
	s.publishThread(threadID)
}

// ApplyEvent incrementally merges one push event. Merges are idempotent:
// replaying the same event twice never changes state. Events referencing
// an unknown thread are buffered for a bounded window and otherwise
// ignored; they never fail the pipeline.
func (s *Store) ApplyEvent(evt any) {
	switch e := evt.(type) {
	case *model.NewMessageEvent:
		s.applyNewMessage(e)
	case *model.MessageSeenEvent:
		s.applySeen(e)
	case *model.MessageReactionEvent:
		s.applyReaction(e)
	default:
		s.logger.Debug("ignoring unhandled event", zap.Any("event", evt))
	}
}

func (s *Store) applyNewMessage(e *model.NewMessageEvent) {
	s.mu.Lock()
	ts, ok := s.threads[e.ThreadID]
	if !ok {
		s.bufferEvent(e.ThreadID, e)
		s.mu.Unlock()
		s.logger.Info("buffered message for unknown thread", zap.String("thread_id", e.ThreadID))
		return
	}
	if prev, seen := s.msgIndex[e.Message.ID]; seen && prev == e.ThreadID {
		s.mu.Unlock()
		return
	}

	msg := e.Message
	if len(msg.Reactions) > 0 {
		s.reactions.Load(msg.ID, msg.Reactions)
		msg.Reactions = nil
	}

	// The full list is only held for the open thread; background threads
	// refetch history on open. Ordering is by arrival, not timestamp:
	// client clocks are not monotonic across devices. The ID is indexed
	// either way so redelivery is a no-op.
	appended := false
	if s.open == e.ThreadID {
		ts.messages = append(ts.messages, msg)
		appended = true
	}
	s.msgIndex[msg.ID] = e.ThreadID

	// The preview always follows the event so the thread list stays
	// current for inactive conversations too.
	ts.thread.LastMessage = msg.Text
	ts.thread.LastMessageAt = msg.CreatedAt

	if s.open != e.ThreadID && msg.SenderID != s.selfID {
		if ts.thread.UnreadCounts == nil {
			ts.thread.UnreadCounts = make(map[string]int)
		}
		ts.thread.UnreadCounts[s.selfID]++
	}
	s.mu.Unlock()

	if s.bus != nil && appended {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageAppended, Timestamp: s.now(), Payload: *e})
	}
	s.publishThread(e.ThreadID)
}

func (s *Store) applySeen(e *model.MessageSeenEvent) {
	s.mu.Lock()
	if _, ok := s.threads[e.ThreadID]; !ok {
		s.bufferEvent(e.ThreadID, e)
		s.mu.Unlock()
		return
	}
	marks := s.seen[e.ThreadID]
	if marks == nil {
		marks = make(map[string]model.SeenMark)
		s.seen[e.ThreadID] = marks
	}
	// Last write wins per (thread, user).
	if prev, ok := marks[e.UserID]; ok && prev.SeenAt.After(e.SeenAt) {
		s.mu.Unlock()
		return
	}
	marks[e.UserID] = model.SeenMark{
		ThreadID: e.ThreadID,
		UserID:   e.UserID,
		Username: e.Username,
		SeenAt:   e.SeenAt,
	}
	s.mu.Unlock()
	s.publishThread(e.ThreadID)
}

func (s *Store) applyReaction(e *model.MessageReactionEvent) {
	// The ledger tolerates reactions for messages whose history is not
	// loaded; they reconcile when LoadMessages replaces the lists.
	changed := s.reactions.Apply(e.MessageID, e.Reaction, e.Action)
	if !changed {
		return
	}
	s.mu.RLock()
	threadID := s.msgIndex[e.MessageID]
	s.mu.RUnlock()
	if threadID != "" {
		s.publishThread(threadID)
	}
}

// bufferEvent holds back an event for a thread the store does not know
// yet. Caller holds the lock.
func (s *Store) bufferEvent(threadID string, evt any) {
	buf := s.buffered[threadID]
	if len(buf) >= maxBuffered {
		buf = buf[1:]
	}
	s.buffered[threadID] = append(buf, evt)
}

// takeBuffered drains every buffered event. Caller holds the lock.
func (s *Store) takeBuffered() []any {
	var out []any
	for id, buf := range s.buffered {
		if _, ok := s.threads[id]; ok {
			out = append(out, buf...)
		}
		// Unknown after a fresh snapshot: rely on the next snapshot.
		delete(s.buffered, id)
	}
	return out
}

// takeBufferedFor drains buffered events for one thread. Caller holds the
// lock.
func (s *Store) takeBufferedFor(threadID string) []any {
	buf := s.buffered[threadID]
	delete(s.buffered, threadID)
	return buf
}
