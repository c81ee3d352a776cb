package ingest

import (
	"context"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/cache"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/notify"
	"github.com/plumahq/messaging/internal/presence"
	"github.com/plumahq/messaging/internal/thread"
	"github.com/plumahq/messaging/internal/typing"
	"go.uber.org/zap"
)

// Funnel is the single consumer of decoded push events. It subscribes to
// the push namespace and fans each event into the component that owns the
// affected state. One goroutine, serial processing: an event is fully
// applied before the next is read, so no merge ever observes a partially
// applied prior event.
type Funnel struct {
	bus     *bus.Bus
	store   *thread.Store
	tracker *presence.Tracker
	typing  *typing.Coordinator
	notifs  *notify.Center
	cache   *cache.DB
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewFunnel creates a funnel. cache and logger may be nil.
func NewFunnel(b *bus.Bus, store *thread.Store, tracker *presence.Tracker, coord *typing.Coordinator, notifs *notify.Center, db *cache.DB, logger *zap.Logger) *Funnel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Funnel{
		bus:     b,
		store:   store,
		tracker: tracker,
		typing:  coord,
		notifs:  notifs,
		cache:   db,
		logger:  logger,
	}
}

// Start subscribes to push events on the bus.
func (f *Funnel) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.Subscribe(bus.NSPush, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				f.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the funnel.
func (f *Funnel) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Funnel) handle(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case *model.NewMessageEvent:
		f.store.ApplyEvent(payload)
		f.writeBehind(payload)
	case *model.MessageSeenEvent:
		f.store.ApplyEvent(payload)
	case *model.MessageReactionEvent:
		f.store.ApplyEvent(payload)
	case *model.TypingEvent:
		f.typing.OnTypingEvent(payload.UserID, payload.ThreadID, payload.Typing)
	case *model.PresenceUpdateEvent:
		f.tracker.SetStatus(payload.UserID, payload.Status, payload.Timestamp)
	case *model.Notification:
		f.notifs.Add(*payload)
	case *model.NotificationsReadEvent:
		f.notifs.MarkRead(*payload)
	default:
		f.logger.Debug("unhandled push payload", zap.String("kind", evt.Kind))
	}
}

// writeBehind mirrors a message event into the local cache so a restart
// shows the last known state before the first snapshot returns. Cache
// failures are logged and never fail the merge pipeline.
func (f *Funnel) writeBehind(evt *model.NewMessageEvent) {
	if f.cache == nil {
		return
	}
	if err := f.cache.UpsertMessage(evt.Message); err != nil {
		f.logger.Warn("cache message write failed", zap.String("message_id", evt.Message.ID), zap.Error(err))
		return
	}
	if t, ok := f.store.GetThread(evt.ThreadID); ok {
		if err := f.cache.UpsertThread(t); err != nil {
			f.logger.Warn("cache thread write failed", zap.String("thread_id", evt.ThreadID), zap.Error(err))
		}
	}
}
