package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/remote/memory"
	"github.com/matheus3301/chatsync/internal/remote/ws"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // empty = ~/.chatsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideOutbox,
			provideCoordinator,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := profile.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never share a database.
func provideStore(p Params, _ *profile.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.InitSchema(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (remote.Store, error) {
	switch cfg.Remote.Kind {
	case "", config.RemoteMemory:
		logger.Info("using in-process remote store")
		return memory.New(), nil
	case config.RemoteWS:
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("remote.url is required for kind %q", config.RemoteWS)
		}
		client := ws.New(cfg.Remote.URL, logger)
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return client.Close()
			},
		})
		logger.Info("using websocket remote store", zap.String("url", cfg.Remote.URL))
		return client, nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

func provideOutbox(db *store.DB, rs remote.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Outbox {
	return outbox.New(db, rs, b, outbox.NewBackoff(cfg.BackoffStages()), logger)
}

func provideCoordinator(db *store.DB, rs remote.Store, ob *outbox.Outbox, b *bus.Bus, m *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Coordinator {
	return intsync.New(db, rs, ob, b, m, intsync.Config{
		TypingTTL:         cfg.Typing.TTL.Duration,
		HeartbeatInterval: cfg.Presence.Interval.Duration,
		OnlineWindow:      cfg.Presence.OnlineWindow.Duration,
	}, logger)
}

func provideSyncService(p Params, coord *intsync.Coordinator, db *store.DB, b *bus.Bus) *api.SyncService {
	return api.NewSyncService(coord, db, b, p.Profile)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *profile.Lock, db *store.DB, coord *intsync.Coordinator, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.UserID == "" {
				logger.Info("no user_id configured, waiting for Start")
				return nil
			}
			if err := coord.Start(ctx, cfg.UserID); err != nil {
				logger.Error("auto-start failed", zap.String("user_id", cfg.UserID), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := coord.Stop(ctx); err != nil {
				logger.Warn("error stopping sync", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
