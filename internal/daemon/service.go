package daemon

import (
	"context"
	"fmt"

	"github.com/plumahq/messaging/internal/cache"
	"github.com/plumahq/messaging/internal/channel"
	"github.com/plumahq/messaging/internal/gateway"
	"github.com/plumahq/messaging/internal/metrics"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/optimistic"
	"github.com/plumahq/messaging/internal/presence"
	"github.com/plumahq/messaging/internal/thread"
	"github.com/plumahq/messaging/internal/typing"
	"go.uber.org/zap"
)

// Service is the session's operation surface. It sequences gateway calls,
// store mutations and room membership for the view-level actions, keeping
// every state change funnelled through the thread store.
type Service struct {
	gw     *gateway.Client
	store  *thread.Store
	router *channel.Router
	mgr    *optimistic.Manager
	typing *typing.Coordinator
	pinger *presence.Pinger
	cache  *cache.DB
	logger *zap.Logger
}

// NewService creates the service.
func NewService(gw *gateway.Client, store *thread.Store, router *channel.Router, mgr *optimistic.Manager, coord *typing.Coordinator, pinger *presence.Pinger, db *cache.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gw:     gw,
		store:  store,
		router: router,
		mgr:    mgr,
		typing: coord,
		pinger: pinger,
		cache:  db,
		logger: logger,
	}
}

// WarmStart seeds the store from the local cache so a restarted daemon
// shows the last known thread list before the first snapshot returns.
func (s *Service) WarmStart() {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.Threads()
	if err != nil {
		s.logger.Warn("cache warm start failed", zap.Error(err))
		return
	}
	if len(cached) == 0 {
		return
	}
	var threads, requests []model.Thread
	for _, t := range cached {
		if t.IsRequest {
			requests = append(requests, t)
		} else {
			threads = append(threads, t)
		}
	}
	s.store.LoadSnapshot(threads, requests)
	s.logger.Info("warm start from cache", zap.Int("threads", len(cached)))
}

// LoadSnapshot performs the bulk load: accepted threads, pending
// requests, and the viewer's settings. Responses funnel through the same
// store merge as push events.
func (s *Service) LoadSnapshot(ctx context.Context) error {
	threads, err := s.gw.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("load threads: %w", err)
	}
	requests, err := s.gw.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("load requests: %w", err)
	}
	s.store.LoadSnapshot(threads, requests)
	metrics.SnapshotLoads.Inc()

	if settings, err := s.gw.GetSettings(ctx); err != nil {
		s.logger.Warn("settings load failed", zap.Error(err))
	} else {
		s.store.SetSettings(settings)
	}

	if s.cache != nil {
		for _, t := range append(threads, requests...) {
			if err := s.cache.UpsertThread(t); err != nil {
				s.logger.Warn("cache thread write failed", zap.String("thread_id", t.ID), zap.Error(err))
			}
		}
	}
	s.logger.Info("snapshot loaded", zap.Int("threads", len(threads)), zap.Int("requests", len(requests)))
	return nil
}

// OpenThread makes a thread the active view: joins its room, loads its
// history and records the viewer's seen mark. When the gateway is
// unreachable, cached history is shown instead.
func (s *Service) OpenThread(ctx context.Context, threadID string) error {
	s.store.OpenThread(threadID)
	if err := s.router.JoinThread(threadID); err != nil {
		s.logger.Warn("room join deferred", zap.String("thread_id", threadID), zap.Error(err))
	}

	tw, err := s.gw.GetThread(ctx, threadID)
	if err != nil {
		s.logger.Warn("thread fetch failed, falling back to cache", zap.String("thread_id", threadID), zap.Error(err))
		if s.cache != nil {
			if msgs, cerr := s.cache.Messages(threadID, 100); cerr == nil && len(msgs) > 0 {
				s.store.LoadMessages(threadID, msgs)
			}
		}
		return err
	}
	s.store.UpsertThread(tw.Thread)
	s.store.OpenThread(threadID)
	s.store.LoadMessages(threadID, tw.Messages)

	if s.cache != nil {
		for _, m := range tw.Messages {
			if cerr := s.cache.UpsertMessage(m); cerr != nil {
				s.logger.Warn("cache message write failed", zap.String("message_id", m.ID), zap.Error(cerr))
				break
			}
		}
	}

	// Seen marks are emitted only when the viewer has read receipts on.
	if s.store.Settings().ReadReceipts {
		if err := s.mgr.MarkSeen(ctx, threadID); err != nil {
			s.logger.Warn("mark seen failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
	return nil
}

// CloseThread leaves a thread view: stops typing, leaves the room, and
// clears the open marker. In-flight sends for the thread keep resolving
// against it.
func (s *Service) CloseThread(threadID string) {
	s.typing.StopTyping(threadID)
	if err := s.router.LeaveThread(threadID); err != nil {
		s.logger.Debug("room leave skipped", zap.String("thread_id", threadID), zap.Error(err))
	}
	s.store.CloseThread(threadID)
}

// SendMessage sends optimistically. Pings activity as a side effect of
// the interaction.
func (s *Service) SendMessage(ctx context.Context, threadID, text string, attachment *model.Attachment) (*model.Message, error) {
	s.pinger.Interact()
	s.typing.StopTyping(threadID)
	msg, err := s.mgr.Send(ctx, threadID, text, attachment)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cerr := s.cache.UpsertMessage(*msg); cerr != nil {
			s.logger.Warn("cache message write failed", zap.String("message_id", msg.ID), zap.Error(cerr))
		}
	}
	return msg, nil
}

// React toggles the viewer's reaction on a message.
func (s *Service) React(ctx context.Context, messageID, emoji string) error {
	s.pinger.Interact()
	return s.mgr.React(ctx, messageID, emoji)
}

// AcceptRequest accepts a pending thread request.
func (s *Service) AcceptRequest(ctx context.Context, threadID string) error {
	if threadID == "" {
		return optimistic.ErrUnknownThread
	}
	if err := s.gw.AcceptRequest(ctx, threadID); err != nil {
		return err
	}
	s.store.AcceptRequest(threadID)
	return nil
}

// DeclineRequest declines a pending thread request and drops it locally.
func (s *Service) DeclineRequest(ctx context.Context, threadID string) error {
	if threadID == "" {
		return optimistic.ErrUnknownThread
	}
	if err := s.gw.DeclineRequest(ctx, threadID); err != nil {
		return err
	}
	s.removeLocal(threadID)
	return nil
}

// DeleteThread soft-deletes a thread for the viewer.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.gw.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	s.CloseThread(threadID)
	s.removeLocal(threadID)
	return nil
}

func (s *Service) removeLocal(threadID string) {
	s.store.RemoveThread(threadID)
	if s.cache != nil {
		if err := s.cache.DeleteThread(threadID); err != nil {
			s.logger.Warn("cache thread delete failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
}

// CreateThread opens (or finds) the direct thread with a target user and
// joins its room.
func (s *Service) CreateThread(ctx context.Context, targetUserID string) (*model.Thread, error) {
	t, err := s.gw.CreateThread(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	s.store.UpsertThread(*t)
	if s.cache != nil {
		if cerr := s.cache.UpsertThread(*t); cerr != nil {
			s.logger.Warn("cache thread write failed", zap.String("thread_id", t.ID), zap.Error(cerr))
		}
	}
	return t, nil
}

// Mutuals lists the viewer's mutual connections for recipient suggestion.
func (s *Service) Mutuals(ctx context.Context) ([]model.User, error) {
	return s.gw.ListMutuals(ctx)
}

// SearchUsers searches users by query. Empty queries are rejected before
// any network round-trip.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	return s.gw.SearchUsers(ctx, query)
}

// UpdateSettings round-trips the viewer's messaging settings through the
// gateway; the local copy follows only after the durable write succeeds.
func (s *Service) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if err := s.gw.UpdateSettings(ctx, settings); err != nil {
		return err
	}
	s.store.SetSettings(settings)
	return nil
}

// Mute toggles the viewer's local mute flag on a thread. Muted threads
// keep accruing unread counts; only notification emission stops.
func (s *Service) Mute(threadID string, muted bool) {
	s.store.SetMuted(threadID, muted)
}

// StartTyping relays composer activity for the active thread.
func (s *Service) StartTyping(threadID string) {
	s.pinger.Interact()
	s.typing.StartTyping(threadID)
}

// StopTyping relays an explicit composer stop.
func (s *Service) StopTyping(threadID string) {
	s.typing.StopTyping(threadID)
}
