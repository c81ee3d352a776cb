package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Minimum gap between interaction-driven activity pings. Bounds
	// push-channel chatter under continuous interaction.
	pingThrottle = 30 * time.Second

	// Background heartbeat keeping "online" alive without interaction.
	heartbeatInterval = 2 * time.Minute
)

// ActivitySender emits an activity signal upstream. Implemented by the
// channel router.
type ActivitySender interface {
	Activity() error
}

// Pinger throttles interaction-driven activity signals and emits a
// periodic heartbeat.
type Pinger struct {
	mu       sync.Mutex
	sender   ActivitySender
	logger   *zap.Logger
	now      func() time.Time
	lastPing time.Time
	cancel   context.CancelFunc
}

// NewPinger creates a pinger. logger may be nil.
func NewPinger(sender ActivitySender, logger *zap.Logger) *Pinger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pinger{
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (p *Pinger) SetNow(now func() time.Time) { p.now = now }

// Interact reports user interaction. The activity signal is sent only if
// at least 30 seconds have passed since the previous successful one.
// Returns whether a signal was emitted.
func (p *Pinger) Interact() bool {
	p.mu.Lock()
	now := p.now()
	prev := p.lastPing
	if !prev.IsZero() && now.Sub(prev) < pingThrottle {
		p.mu.Unlock()
		return false
	}
	p.lastPing = now
	p.mu.Unlock()

	if err := p.sender.Activity(); err != nil {
		p.logger.Warn("activity ping failed", zap.Error(err))
		// A failed send must not eat the throttle window, or the next
		// ping after a reconnect gets delayed.
		p.mu.Lock()
		if p.lastPing.Equal(now) {
			p.lastPing = prev
		}
		p.mu.Unlock()
		return false
	}
	return true
}

// Start launches the heartbeat loop.
func (p *Pinger) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the heartbeat loop.
func (p *Pinger) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pinger) loop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.lastPing = p.now()
			p.mu.Unlock()
			if err := p.sender.Activity(); err != nil {
				p.logger.Warn("heartbeat ping failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
