package thread

import (
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
)

// AppendPending inserts an optimistic message carrying a local ID. The
// entry joins the thread's message list even when the thread is no longer
// open, so a send started before switching views lands in the right list.
func (s *Store) AppendPending(msg model.Message) bool {
	s.mu.Lock()
	ts, ok := s.threads[msg.ThreadID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg.Pending = true
	ts.messages = append(ts.messages, msg)
	s.msgIndex[msg.ID] = msg.ThreadID
	ts.thread.LastMessage = msg.Text
	ts.thread.LastMessageAt = msg.CreatedAt
	s.mu.Unlock()

	s.publishThread(msg.ThreadID)
	return true
}

// ConfirmPending swaps the optimistic entry for the server-confirmed
// message in place, keeping list position. If the push channel already
// delivered the confirmed message, the stale pending entry is dropped
// instead of appending a duplicate.
func (s *Store) ConfirmPending(localID string, confirmed model.Message) {
	s.mu.Lock()
	threadID, ok := s.msgIndex[localID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ts := s.threads[threadID]
	delete(s.msgIndex, localID)

	if _, raced := s.msgIndex[confirmed.ID]; raced {
		removeMessage(ts, localID)
	} else {
		for i := range ts.messages {
			if ts.messages[i].ID == localID {
				confirmed.Pending = false
				ts.messages[i] = confirmed
				break
			}
		}
		s.msgIndex[confirmed.ID] = threadID
	}

	// Timestamp only: matching on text could regress the preview when a
	// newer message happens to repeat it.
	if !confirmed.CreatedAt.Before(ts.thread.LastMessageAt) {
		ts.thread.LastMessage = confirmed.Text
		ts.thread.LastMessageAt = confirmed.CreatedAt
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindSendConfirmed, Timestamp: s.now(), Payload: confirmed})
	}
	s.publishThread(threadID)
}

// RemovePending rolls an optimistic entry back out of the list and
// recomputes the preview from what remains.
func (s *Store) RemovePending(localID string) {
	s.mu.Lock()
	threadID, ok := s.msgIndex[localID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ts := s.threads[threadID]
	delete(s.msgIndex, localID)
	removeMessage(ts, localID)

	ts.thread.LastMessage = ""
	ts.thread.LastMessageAt = time.Time{}
	if n := len(ts.messages); n > 0 {
		last := ts.messages[n-1]
		ts.thread.LastMessage = last.Text
		ts.thread.LastMessageAt = last.CreatedAt
	}
	s.mu.Unlock()

	s.publishThread(threadID)
}

func removeMessage(ts *threadState, id string) {
	for i := range ts.messages {
		if ts.messages[i].ID == id {
			ts.messages = append(ts.messages[:i], ts.messages[i+1:]...)
			return
		}
	}
}
