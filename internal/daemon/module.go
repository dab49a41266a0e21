package daemon

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/draft"
	"github.com/matheus3301/chatsync/internal/idgen"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/network"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config

	SocketPath string      // optional override for testing; empty = use default
	Logger     *zap.Logger // optional; nil = file and stderr logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideRegistry,
			provideMetrics,
			provideLock,
			provideStore,
			provideQueue,
			provideDrafts,
			provideMonitor,
			provideProber,
			provideBackend,
			provideIDs,
			provideChatStore,
			provideChatService,
			NewServer,
			NewOpsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, zapcore.InfoLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath, logger)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideQueue(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Queue {
	return outbox.New(db, logger, outbox.WithOnExhausted(func(e outbox.QueuedMessage) {
		logger.Warn("queued message exhausted its retries",
			zap.String("queue_id", e.ID),
			zap.Int("retry_count", e.RetryCount))
		b.Publish(bus.Event{Kind: bus.QueueExhausted, Payload: e})
		m.Exhausted()
	}))
}

func provideDrafts(db *store.DB) *draft.Keeper {
	return draft.NewKeeper(db)
}

// The monitor starts offline; the prober's first probe settles it.
func provideMonitor(logger *zap.Logger) *network.Monitor {
	return network.NewMonitor(false, logger)
}

func provideProber(cfg *config.Config, m *network.Monitor, logger *zap.Logger) *network.Prober {
	check := network.HTTPCheck(&http.Client{}, cfg.ProbeTarget())
	return network.NewProber(m, check, network.ProberOptions{
		Interval: cfg.Network.ProbeInterval.Duration,
		Timeout:  cfg.Network.ProbeTimeout.Duration,
	}, logger)
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(backend.Options{
		BaseURL:            cfg.API.BaseURL,
		Timeout:            cfg.API.Timeout.Duration,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout.Duration,
		Logger:             logger,
	})
}

func provideIDs() (*idgen.Generator, error) {
	return idgen.New(uint16(os.Getpid()))
}

func provideChatStore(
	cfg *config.Config,
	client *backend.Client,
	ids *idgen.Generator,
	q *outbox.Queue,
	drafts *draft.Keeper,
	mon *network.Monitor,
	b *bus.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *chat.Store {
	var limiter *rate.Limiter
	if cfg.Queue.DrainRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Queue.DrainRate), 1)
	}
	return chat.New(chat.Deps{
		API:     client,
		IDs:     ids,
		Queue:   q,
		Drafts:  drafts,
		Monitor: mon,
	}, chat.Config{
		PageSize:     cfg.Paging.PageSize,
		MaxRetries:   cfg.Queue.MaxRetries,
		DrainLimiter: limiter,
		Bus:          b,
		Metrics:      m,
		Logger:       logger,
	})
}

func provideChatService(p Params, s *chat.Store, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(s, b, p.ProfileName, logger)
}

type lifecycleDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *Server
	Ops       *OpsServer
	Lock      *lock.Lock
	DB        *store.DB
	Prober    *network.Prober
	Monitor   *network.Monitor
	Chat      *chat.Store
	Logger    *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	logger := d.Logger

	d.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.Ops.Listen(); err != nil {
				return err
			}

			d.Prober.Start(ctx)

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			d.Ops.Serve()

			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Chat.LoadInitialMessages(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Prober.Stop()
			wg.Wait()
			d.Chat.Close()
			d.Monitor.Close()
			d.Server.Stop(stopCtx)
			d.Ops.Stop(stopCtx)
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
