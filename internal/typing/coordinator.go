package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/model"
	"go.uber.org/zap"
)

// IdleTimeout is how long after the last typing signal the local stop is
// emitted, and how long a received typing flag lives without a refresh.
const IdleTimeout = 2 * time.Second

// Sender emits typing signals upstream. Implemented by the channel router.
// Signals are fire-and-forget: delivery is not guaranteed.
type Sender interface {
	TypingStart(threadID string) error
	TypingStop(threadID string) error
}

// Coordinator owns all ephemeral typing state, both directions. On the
// sending side it relays local composer activity with an idle timer that
// emits the stop signal. On the receiving side it keeps a per-thread set
// of typing users; each flag carries its own expiry so a sender that
// disconnects without a stop event cannot leave a lingering indicator.
type Coordinator struct {
	mu      sync.Mutex
	sender  Sender
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	timers    map[string]*time.Timer          // threadID -> pending local stop
	lastStart map[string]time.Time            // threadID -> last emitted start
	flags     map[string]map[string]time.Time // threadID -> userID -> expiresAt
}

// NewCoordinator creates a coordinator. b and logger may be nil.
func NewCoordinator(sender Sender, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sender:    sender,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		timeout:   IdleTimeout,
		timers:    make(map[string]*time.Timer),
		lastStart: make(map[string]time.Time),
		flags:     make(map[string]map[string]time.Time),
	}
}

// SetNow overrides the clock. Test hook.
func (c *Coordinator) SetNow(now func() time.Time) { c.now = now }

// SetTimeout overrides the idle timeout. Test hook.
func (c *Coordinator) SetTimeout(d time.Duration) { c.timeout = d }

// StartTyping emits a start signal for the thread and (re)arms the idle
// timer that emits the matching stop. A sustained burst re-emits the
// start every half idle timeout, keeping receiver-side flags alive past
// their per-flag expiry.
func (c *Coordinator) StartTyping(threadID string) {
	c.mu.Lock()
	now := c.now()
	emit := true
	if t, ok := c.timers[threadID]; ok {
		t.Reset(c.timeout)
		emit = now.Sub(c.lastStart[threadID]) >= c.timeout/2
	} else {
		c.timers[threadID] = time.AfterFunc(c.timeout, func() {
			c.StopTyping(threadID)
		})
	}
	if emit {
		c.lastStart[threadID] = now
	}
	c.mu.Unlock()
	if !emit {
		return
	}

	if err := c.sender.TypingStart(threadID); err != nil {
		c.logger.Debug("typing start not delivered", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// StopTyping cancels the idle timer and emits a stop signal immediately.
func (c *Coordinator) StopTyping(threadID string) {
	c.mu.Lock()
	t, ok := c.timers[threadID]
	if ok {
		t.Stop()
		delete(c.timers, threadID)
		delete(c.lastStart, threadID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.sender.TypingStop(threadID); err != nil {
		c.logger.Debug("typing stop not delivered", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// OnTypingEvent applies a received typing event. A start sets (or
// refreshes) the user's flag with a fresh expiry; a stop clears it.
func (c *Coordinator) OnTypingEvent(userID, threadID string, isTyping bool) {
	c.mu.Lock()
	if isTyping {
		if c.flags[threadID] == nil {
			c.flags[threadID] = make(map[string]time.Time)
		}
		c.flags[threadID][userID] = c.now().Add(c.timeout)
	} else if users, ok := c.flags[threadID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(c.flags, threadID)
		}
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindTypingChanged,
			Timestamp: c.now(),
			Payload:   model.TypingState{ThreadID: threadID, UserID: userID},
		})
	}
}

// TypingUsers returns the users currently typing in a thread, expired
// flags excluded and pruned.
func (c *Coordinator) TypingUsers(threadID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.flags[threadID]
	if !ok {
		return nil
	}
	now := c.now()
	var typing []string
	for userID, expiresAt := range users {
		if now.Before(expiresAt) {
			typing = append(typing, userID)
		} else {
			delete(users, userID)
		}
	}
	if len(users) == 0 {
		delete(c.flags, threadID)
	}
	sort.Strings(typing)
	return typing
}

// Teardown cancels all pending local stop timers without emitting signals.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for threadID, t := range c.timers {
		t.Stop()
		delete(c.timers, threadID)
		delete(c.lastStart, threadID)
	}
}
