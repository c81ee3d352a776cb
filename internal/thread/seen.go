package thread

import (
	"time"

	"github.com/plumahq/messaging/internal/model"
)

// SeenSnapshot captures the viewer-local state a seen-mark mutation
// touches, so a failed commit restores exactly what was there before
// rather than recomputing and racing concurrent push events.
type SeenSnapshot struct {
	ThreadID string
	Unread   int
	Mark     *model.SeenMark
}

// MarkSeenLocal applies the viewer's seen mark optimistically: records the
// mark and zeroes the viewer's unread count. Returns the captured prior
// state for rollback.
func (s *Store) MarkSeenLocal(threadID string, seenAt time.Time) (SeenSnapshot, bool) {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return SeenSnapshot{}, false
	}

	snap := SeenSnapshot{ThreadID: threadID, Unread: ts.thread.UnreadCounts[s.selfID]}
	if marks := s.seen[threadID]; marks != nil {
		if prev, ok := marks[s.selfID]; ok {
			mark := prev
			snap.Mark = &mark
		}
	}

	if s.seen[threadID] == nil {
		s.seen[threadID] = make(map[string]model.SeenMark)
	}
	s.seen[threadID][s.selfID] = model.SeenMark{ThreadID: threadID, UserID: s.selfID, SeenAt: seenAt}
	if ts.thread.UnreadCounts == nil {
		ts.thread.UnreadCounts = make(map[string]int)
	}
	ts.thread.UnreadCounts[s.selfID] = 0
	s.mu.Unlock()

	s.publishThread(threadID)
	return snap, true
}

// RestoreSeen reverts a MarkSeenLocal to its captured prior state.
func (s *Store) RestoreSeen(snap SeenSnapshot) {
	s.mu.Lock()
	ts, ok := s.threads[snap.ThreadID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ts.thread.UnreadCounts == nil {
		ts.thread.UnreadCounts = make(map[string]int)
	}
	ts.thread.UnreadCounts[s.selfID] = snap.Unread
	if snap.Mark != nil {
		s.seen[snap.ThreadID][s.selfID] = *snap.Mark
	} else if marks := s.seen[snap.ThreadID]; marks != nil {
		delete(marks, s.selfID)
	}
	s.mu.Unlock()

	s.publishThread(snap.ThreadID)
}
