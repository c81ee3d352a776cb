package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/plumahq/messaging/internal/bus"
	"github.com/plumahq/messaging/internal/cache"
	"github.com/plumahq/messaging/internal/channel"
	"github.com/plumahq/messaging/internal/config"
	"github.com/plumahq/messaging/internal/gateway"
	"github.com/plumahq/messaging/internal/ingest"
	"github.com/plumahq/messaging/internal/lock"
	"github.com/plumahq/messaging/internal/logging"
	"github.com/plumahq/messaging/internal/metrics"
	"github.com/plumahq/messaging/internal/notify"
	"github.com/plumahq/messaging/internal/optimistic"
	"github.com/plumahq/messaging/internal/presence"
	"github.com/plumahq/messaging/internal/reaction"
	"github.com/plumahq/messaging/internal/session"
	"github.com/plumahq/messaging/internal/thread"
	"github.com/plumahq/messaging/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideSessionConfig,
			provideBus,
			provideLock,
			provideCache,
			provideGateway,
			provideLedger,
			provideTracker,
			provideStore,
			provideMachine,
			provideRouter,
			provideTyping,
			providePinger,
			provideNotify,
			provideOptimistic,
			provideFunnel,
			provideMetricsServer,
			NewService,
			provideRefresher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideSessionConfig(p Params) (*config.Session, error) {
	cfg, err := config.LoadSession(session.SessionConfigPath(p.SessionName))
	if err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}
	if cfg.GatewayURL == "" || cfg.PushURL == "" {
		return nil, fmt.Errorf("session config missing gateway_url or push_url")
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, cfg *config.Session, logger *zap.Logger) (*cache.DB, error) {
	db, err := cache.Open(session.CachePath(p.SessionName), cfg.UserID)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideGateway(cfg *config.Session) *gateway.Client {
	return gateway.NewClient(cfg.GatewayURL, cfg.Token)
}

func provideLedger() *reaction.Ledger {
	return reaction.NewLedger()
}

func provideTracker(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideStore(cfg *config.Session, ledger *reaction.Ledger, b *bus.Bus, logger *zap.Logger) *thread.Store {
	return thread.NewStore(cfg.UserID, ledger, b, logger)
}

func provideMachine(b *bus.Bus) *channel.Machine {
	return channel.NewMachine(b)
}

func provideRouter(cfg *config.Session, machine *channel.Machine, b *bus.Bus, logger *zap.Logger) *channel.Router {
	return channel.NewRouter(channel.WebsocketDialer{}, cfg.PushURL, cfg.Token, machine, b, logger)
}

func provideTyping(router *channel.Router, b *bus.Bus, logger *zap.Logger) *typing.Coordinator {
	return typing.NewCoordinator(router, b, logger)
}

func providePinger(router *channel.Router, logger *zap.Logger) *presence.Pinger {
	return presence.NewPinger(router, logger)
}

func provideNotify(b *bus.Bus) *notify.Center {
	return notify.NewCenter(b)
}

func provideOptimistic(gw *gateway.Client, store *thread.Store, cfg *config.Session, b *bus.Bus, logger *zap.Logger) *optimistic.Manager {
	return optimistic.NewManager(gw, store, cfg.UserID, b, logger)
}

func provideFunnel(b *bus.Bus, store *thread.Store, tracker *presence.Tracker, coord *typing.Coordinator, notifs *notify.Center, db *cache.DB, logger *zap.Logger) *ingest.Funnel {
	return ingest.NewFunnel(b, store, tracker, coord, notifs, db, logger)
}

func provideMetricsServer(cfg *config.Session, logger *zap.Logger) *metrics.Server {
	return metrics.NewServer(cfg.MetricsAddr, logger)
}

func provideRefresher(b *bus.Bus, svc *Service, router *channel.Router, cfg *config.Session, logger *zap.Logger) *Refresher {
	return NewRefresher(b, svc, router, time.Duration(cfg.SnapshotRefreshSecs)*time.Second, logger)
}

func registerLifecycle(lc fx.Lifecycle, svc *Service, funnel *ingest.Funnel, router *channel.Router, coord *typing.Coordinator, pinger *presence.Pinger, refresher *Refresher, metricsSrv *metrics.Server, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			funnel.Start(runCtx)
			metricsSrv.Start()
			refresher.Start(runCtx)

			// Cached state first, then the authoritative snapshot and
			// the live channel in the background. Startup never blocks
			// on the network.
			svc.WarmStart()
			go func() {
				if err := svc.LoadSnapshot(runCtx); err != nil {
					logger.Error("initial snapshot failed", zap.Error(err))
				}
				if err := router.Init(runCtx); err != nil {
					logger.Error("push channel connect failed", zap.Error(err))
				}
				pinger.Start(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			pinger.Stop()
			refresher.Stop()
			coord.Teardown()
			router.Teardown()
			funnel.Stop()
			metricsSrv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
