package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/wallwatch/internal/api"
	"github.com/matheus3301/wallwatch/internal/bus"
	"github.com/matheus3301/wallwatch/internal/config"
	"github.com/matheus3301/wallwatch/internal/feed"
	"github.com/matheus3301/wallwatch/internal/lock"
	"github.com/matheus3301/wallwatch/internal/logging"
	"github.com/matheus3301/wallwatch/internal/notify"
	"github.com/matheus3301/wallwatch/internal/profile"
	"github.com/matheus3301/wallwatch/internal/remote"
	"github.com/matheus3301/wallwatch/internal/snapshot"
	"github.com/matheus3301/wallwatch/internal/store"
	"github.com/matheus3301/wallwatch/internal/watch"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // empty = ~/.wallwatch/config.toml
	SocketPath string // optional override for testing; empty = use default
	LogLevel   zapcore.Level

	// Test hooks. Nil means build from config.
	Logger *zap.Logger
	Source feed.Source
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSource,
			provideRegistry,
			provideDispatcher,
			provideManager,
			provideWatchService,
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

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so a second daemon never touches the journal.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.JournalPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSource(p Params, cfg *config.Config, logger *zap.Logger) (feed.Source, error) {
	if p.Source != nil {
		return p.Source, nil
	}
	return remote.New(remoteConfig(cfg.Source), logger.Named("remote"))
}

func provideRegistry() *snapshot.Registry {
	return snapshot.NewRegistry()
}

func provideDispatcher(b *bus.Bus, db *store.DB, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(logger.Named("notify"),
		notify.NewLogSink(logger.Named("changes")),
		notify.NewBusSink(b),
		notify.NewJournalSink(db),
	)
}

func provideManager(registry *snapshot.Registry, source feed.Source, d *notify.Dispatcher, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *watch.Manager {
	return watch.NewManager(registry, source, d, b, managerOptions(cfg.Watcher), logger)
}

func provideWatchService(m *watch.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.WatchService {
	return api.NewWatchService(m, db, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, m *watch.Manager, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Priming checks can take a while; the API is up meanwhile.
			for _, wc := range cfg.Watches {
				spec := specFromConfig(wc)
				go func() {
					_, err := m.Start(context.Background(), spec)
					switch {
					case errors.Is(err, watch.ErrShutdown):
						logger.Info("configured watch not started before shutdown", zap.Int64("wall_id", spec.WallID))
					case err != nil:
						logger.Error("configured watch failed to start", zap.Int64("wall_id", spec.WallID), zap.Error(err))
					}
				}()
			}
			logger.Info("daemon started", zap.Int("configured_watches", len(cfg.Watches)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := m.Shutdown(ctx); err != nil {
				logger.Warn("watches did not finish", zap.Error(err))
			}
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
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
