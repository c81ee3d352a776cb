package optimistic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/gateway"
	"github.com/plumahq/messaging/internal/metrics"
	"github.com/plumahq/messaging/internal/model"
	"github.com/plumahq/messaging/internal/thread"
	"go.uber.org/zap"
)

// Validation errors, rejected before any optimistic apply or network call.
var (
	ErrEmptyText     = errors.New("message text is empty")
	ErrUnknownThread = errors.New("unknown thread")
	ErrUnknownSend   = errors.New("unknown pending send")
)

// Gateway is the mutation surface the manager commits against.
type Gateway interface {
	SendMessage(ctx context.Context, threadID string, req gateway.SendMessageRequest) (*model.Message, error)
	MarkSeen(ctx context.Context, threadID string) error
	AddReaction(ctx context.Context, messageID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, emoji string) error
}

// SendOp is one pending send in the reconciliation table.
type SendOp struct {
	LocalID    string
	ThreadID   string
	Text       string
	Attachment *model.Attachment
}

// Manager wraps user-initiated mutations with an immediate local effect
// plus reconciliation or rollback once the durable call resolves. Pending
// sends live in a table keyed by temporary ID, so commit and rollback are
// lookups and concurrent sends cannot interfere with each other.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*SendOp
	drafts  map[string]string

	gw     Gateway
	store  *thread.Store
	bus    *bus.Bus
	logger *zap.Logger
	selfID string
	now    func() time.Time
}

// SendFailure is the payload published when a send rolls back. Draft
// carries the composer text so the UI can restore it.
type SendFailure struct {
	LocalID  string
	ThreadID string
	Draft    string
	Err      string
}

// NewManager creates a manager. b and logger may be nil.
func NewManager(gw Gateway, store *thread.Store, selfID string, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pending: make(map[string]*SendOp),
		drafts:  make(map[string]string),
		gw:      gw,
		store:   store,
		bus:     b,
		logger:  logger,
		selfID:  selfID,
		now:     time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// BeginSend validates and optimistically applies a message send. The
// temporary entry appears in the thread immediately; CommitSend resolves
// it. Empty sends are rejected before any apply or network round-trip.
func (m *Manager) BeginSend(threadID, text string, attachment *model.Attachment) (*SendOp, error) {
	if text == "" && attachment == nil {
		return nil, ErrEmptyText
	}

	op := &SendOp{
		LocalID:    "local-" + uuid.NewString(),
		ThreadID:   threadID,
		Text:       text,
		Attachment: attachment,
	}
	ok := m.store.AppendPending(model.Message{
		ID:         op.LocalID,
		ThreadID:   threadID,
		SenderID:   m.selfID,
		Text:       text,
		Attachment: attachment,
		CreatedAt:  m.now(),
	})
	if !ok {
		return nil, ErrUnknownThread
	}

	m.mu.Lock()
	m.pending[op.LocalID] = op
	delete(m.drafts, threadID)
	m.mu.Unlock()
	return op, nil
}

// CommitSend performs the durable write for a pending send. On success the
// temporary entry is replaced in place by the server-confirmed message; on
// failure it is removed, the composer draft becomes recoverable, and the
// error is surfaced.
func (m *Manager) CommitSend(ctx context.Context, localID string) (*model.Message, error) {
	m.mu.Lock()
	op, ok := m.pending[localID]
	if ok {
		delete(m.pending, localID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSend
	}

	req := gateway.SendMessageRequest{Text: op.Text}
	if op.Attachment != nil {
		req.AttachmentURL = op.Attachment.URL
		req.AttachmentType = op.Attachment.Type
		req.AttachmentName = op.Attachment.Name
	}

	confirmed, err := m.gw.SendMessage(ctx, op.ThreadID, req)
	if err != nil {
		m.rollbackSend(op, err)
		metrics.OptimisticOps.WithLabelValues("send", "rollback").Inc()
		return nil, err
	}

	m.store.ConfirmPending(op.LocalID, *confirmed)
	metrics.OptimisticOps.WithLabelValues("send", "commit").Inc()
	return confirmed, nil
}

// Send is BeginSend followed by CommitSend. Callers that must not block
// run it in its own goroutine; the optimistic apply is synchronous either
// way. A send started before switching threads still resolves against the
// thread it targeted.
func (m *Manager) Send(ctx context.Context, threadID, text string, attachment *model.Attachment) (*model.Message, error) {
	op, err := m.BeginSend(threadID, text, attachment)
	if err != nil {
		return nil, err
	}
	return m.CommitSend(ctx, op.LocalID)
}

func (m *Manager) rollbackSend(op *SendOp, cause error) {
	m.store.RemovePending(op.LocalID)
	m.mu.Lock()
	m.drafts[op.ThreadID] = op.Text
	m.mu.Unlock()
	m.logger.Warn("send rolled back",
		zap.String("thread_id", op.ThreadID),
		zap.String("local_id", op.LocalID),
		zap.Error(cause))
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: m.now(),
			Payload: SendFailure{
				LocalID:  op.LocalID,
				ThreadID: op.ThreadID,
				Draft:    op.Text,
				Err:      "Failed to send message",
			},
		})
	}
}

// Draft returns the recoverable composer text left by a failed send.
func (m *Manager) Draft(threadID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[threadID]
}

// React toggles the viewer's reaction on a message: same emoji removes,
// any other sets (replacing a prior slot, one reaction per user). The
// ledger mutates first; a failed commit restores the captured prior slot
// rather than recomputing, avoiding cross-talk with concurrent push
// events.
func (m *Manager) React(ctx context.Context, messageID, emoji string) error {
	ledger := m.store.Reactions()
	prior, had := ledger.Get(messageID, m.selfID)

	self := model.Reaction{UserID: m.selfID, Emoji: emoji}
	present := ledger.Toggle(messageID, self)

	var err error
	if present {
		if had && prior.Emoji != emoji {
			// One reaction per user: the old slot is removed durably
			// before the new one lands.
			if err = m.gw.RemoveReaction(ctx, messageID, prior.Emoji); err == nil {
				err = m.gw.AddReaction(ctx, messageID, emoji)
			}
		} else {
			err = m.gw.AddReaction(ctx, messageID, emoji)
		}
	} else {
		err = m.gw.RemoveReaction(ctx, messageID, emoji)
	}

	if err != nil {
		if had {
			ledger.Apply(messageID, prior, model.ReactionAdd)
		} else {
			ledger.Apply(messageID, self, model.ReactionRemove)
		}
		metrics.OptimisticOps.WithLabelValues("react", "rollback").Inc()
		return err
	}
	metrics.OptimisticOps.WithLabelValues("react", "commit").Inc()
	return nil
}

// MarkSeen applies the viewer's seen mark and clears the unread count
// immediately, reverting both to the captured prior state when the
// durable call fails.
func (m *Manager) MarkSeen(ctx context.Context, threadID string) error {
	snap, ok := m.store.MarkSeenLocal(threadID, m.now())
	if !ok {
		return ErrUnknownThread
	}

	if err := m.gw.MarkSeen(ctx, threadID); err != nil {
		m.store.RestoreSeen(snap)
		metrics.OptimisticOps.WithLabelValues("seen", "rollback").Inc()
		return err
	}
	metrics.OptimisticOps.WithLabelValues("seen", "commit").Inc()
	return nil
}
