package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/parrothq/parrot/internal/autorespond"
	"github.com/parrothq/parrot/internal/channel/discord"
	"github.com/parrothq/parrot/internal/config"
	"github.com/parrothq/parrot/internal/db"
	"github.com/parrothq/parrot/internal/handlers"
	"github.com/parrothq/parrot/internal/logger"
	"github.com/parrothq/parrot/internal/rules"
	"github.com/parrothq/parrot/internal/server"
)

func runServe(configPath string) {
	fx.New(
		fx.Provide(
			provideConfig(configPath),
			provideLogger,
			provideDBPool,
			rules.NewService,
			providePipelineConfig,
			provideStore,
			provideFetcher,
			provideCache,
			provideDispatcher,
			provideSweeper,
			provideDiscordAdapter,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewAutoRespondHandler),
			provideServer,
		),
		fx.Invoke(
			startDiscord,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(configPath string) func() (config.Config, error) {
	return func() (config.Config, error) {
		if configPath == "" {
			configPath = os.Getenv("CONFIG_PATH")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, err
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func providePipelineConfig(cfg config.Config) autorespond.Config {
	return autorespond.Config{
		MaxFetchBytes: cfg.Media.MaxFetchBytes,
		FetchTimeout:  time.Duration(cfg.Media.FetchTimeoutSeconds) * time.Second,
		FetchRetries:  cfg.Media.FetchRetries,
		CacheTTL:      time.Duration(cfg.AutoRespond.CacheTTLSeconds) * time.Second,
		CacheCapacity: cfg.AutoRespond.CacheCapacity,
		MediaCooldown: time.Duration(cfg.AutoRespond.MediaCooldownSeconds) * time.Second,
		ErrorCooldown: time.Duration(cfg.AutoRespond.ErrorCooldownSeconds) * time.Second,
	}
}

func provideStore(log *slog.Logger, cfg config.Config) *autorespond.Store {
	return autorespond.NewStore(log, cfg.Media.DataRoot)
}

func provideFetcher(log *slog.Logger, pipelineCfg autorespond.Config) *autorespond.Fetcher {
	return autorespond.NewFetcher(log, pipelineCfg)
}

func provideCache(log *slog.Logger, store *autorespond.Store, pipelineCfg autorespond.Config) *autorespond.Cache {
	return autorespond.NewCache(log, store, pipelineCfg)
}

func provideDispatcher(log *slog.Logger, ruleService *rules.Service, fetcher *autorespond.Fetcher, cache *autorespond.Cache, store *autorespond.Store, pipelineCfg autorespond.Config) *autorespond.Dispatcher {
	return autorespond.NewDispatcher(log, ruleService, fetcher, cache, store, pipelineCfg)
}

func provideSweeper(log *slog.Logger, ruleService *rules.Service, store *autorespond.Store) *autorespond.Sweeper {
	return autorespond.NewSweeper(log, ruleService, store)
}

func provideDiscordAdapter(log *slog.Logger, cfg config.Config, dispatcher *autorespond.Dispatcher) (*discord.Adapter, error) {
	return discord.NewAdapter(log, cfg.Discord.BotToken, dispatcher)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, cfg.Admin, cfg.Auth)
}

type serverParams struct {
	fx.In
	Log      *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(p serverParams) *server.Server {
	return server.New(p.Log, p.Config.Server.Addr, p.Config.Auth.JWTSecret, p.Handlers)
}

func startDiscord(lc fx.Lifecycle, adapter *discord.Adapter) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return adapter.Open(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return adapter.Close()
		},
	})
}

func startSweeper(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, sweeper *autorespond.Sweeper) {
	schedule := cfg.AutoRespond.SweepSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(ctx); err != nil {
			log.Warn("media sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		log.Warn("invalid sweep schedule, sweeper disabled",
			slog.String("schedule", schedule), slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { c.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			log.Info("http server listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
