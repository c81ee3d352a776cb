package daemon

import (
	"context"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/channel"
	"go.uber.org/zap"
)

// Refresher is the bounded polling fallback for restrictive networks:
// once the router has exhausted its reconnect attempts and surfaced a
// persistent disconnect, it polls a full snapshot at a fixed interval and
// retries the channel, stopping as soon as a connection sticks. A zero
// interval disables the fallback entirely.
type Refresher struct {
	bus      *bus.Bus
	svc      *Service
	router   *channel.Router
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewRefresher creates a refresher.
func NewRefresher(b *bus.Bus, svc *Service, router *channel.Router, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{bus: b, svc: svc, router: router, interval: interval, logger: logger}
}

// Start begins watching channel lifecycle events.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("channel.", 16)

	go func() {
		defer unsub()
		var ticker *time.Ticker
		var tick <-chan time.Time
		stop := func() {
			if ticker != nil {
				ticker.Stop()
				ticker = nil
				tick = nil
			}
		}
		defer stop()

		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindChannelDisconnected:
					if ticker == nil {
						r.logger.Warn("push channel down, polling snapshots",
							zap.Duration("interval", r.interval))
						ticker = time.NewTicker(r.interval)
						tick = ticker.C
					}
				case bus.KindChannelConnected:
					stop()
				}
			case <-tick:
				if err := r.svc.LoadSnapshot(ctx); err != nil {
					r.logger.Warn("fallback snapshot failed", zap.Error(err))
				}
				if err := r.router.Init(ctx); err != nil {
					r.logger.Warn("fallback reconnect failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the refresher.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
