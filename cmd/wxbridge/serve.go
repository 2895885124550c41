package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/wxbridge/internal/bridge"
	"github.com/memohai/wxbridge/internal/channel"
	"github.com/memohai/wxbridge/internal/channel/adapters/telegram"
	"github.com/memohai/wxbridge/internal/config"
	"github.com/memohai/wxbridge/internal/handlers"
	channelchecker "github.com/memohai/wxbridge/internal/healthcheck/checkers/channel"
	mediachecker "github.com/memohai/wxbridge/internal/healthcheck/checkers/media"
	sessionchecker "github.com/memohai/wxbridge/internal/healthcheck/checkers/session"
	"github.com/memohai/wxbridge/internal/logger"
	"github.com/memohai/wxbridge/internal/media"
	"github.com/memohai/wxbridge/internal/metrics"
	"github.com/memohai/wxbridge/internal/puppet"
	"github.com/memohai/wxbridge/internal/puppet/gateway"
	"github.com/memohai/wxbridge/internal/server"
	"github.com/memohai/wxbridge/internal/state"
	"github.com/memohai/wxbridge/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge and its HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(resolveConfigPath())
		},
	}
}

func runServe(configPath string) error {
	app := fx.New(
		fx.Supply(configSource(configPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStateStore,
			provideMediaCache,
			provideTranscoder,
			provideJanitor,
			provideTelegramAdapter,
			provideConnector,
			newControllerLink,
			provideBridgeService,
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideSessionsHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServer,
		),
		fx.Invoke(
			startJanitor,
			startMetricsCollector,
			startBridge,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

type configSource string

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configSource) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStateStore(cfg config.Config, log *slog.Logger) *state.Store {
	return state.NewStore(cfg.Bridge.StateDir, state.BotID(cfg.Telegram.BotToken), log)
}

func provideMediaCache(cfg config.Config, log *slog.Logger) (*media.Cache, error) {
	return media.NewCache(cfg.Media.CacheDir, log)
}

func provideTranscoder(cfg config.Config, cache *media.Cache, log *slog.Logger) *media.Transcoder {
	return media.NewTranscoder(cfg.Media.FFmpegPath, cache, log)
}

func provideJanitor(cfg config.Config, cache *media.Cache, log *slog.Logger) (*media.Janitor, error) {
	return media.NewJanitor(cache, cfg.Media.CleanupSchedule, cfg.Media.CleanupMaxAge, log)
}

func provideTelegramAdapter(cfg config.Config, log *slog.Logger) (*telegram.TelegramAdapter, error) {
	return telegram.NewTelegramAdapter(telegram.Options{
		Token:        cfg.Telegram.BotToken,
		APIEndpoint:  cfg.Telegram.APIEndpoint,
		PollTimeout:  time.Duration(cfg.Telegram.PollTimeout) * time.Second,
		MaxFileBytes: cfg.Media.MaxFileBytes,
		Proxy:        cfg.Telegram.Proxy,
	}, log)
}

func provideConnector(cfg config.Config, log *slog.Logger) puppet.Connector {
	return gateway.NewConnector(gateway.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}, log)
}

type bridgeParams struct {
	fx.In
	Config     config.Config
	Logger     *slog.Logger
	Adapter    *telegram.TelegramAdapter
	Connector  puppet.Connector
	Store      *state.Store
	Cache      *media.Cache
	Transcoder *media.Transcoder
	Shutdowner fx.Shutdowner
}

func provideBridgeService(params bridgeParams) (*bridge.Service, error) {
	cfg := params.Config
	return bridge.NewService(bridge.Deps{
		Controller: params.Adapter,
		Connector:  params.Connector,
		Store:      params.Store,
		Cache:      params.Cache,
		Transcoder: params.Transcoder,
		Logger:     params.Logger,
		Halt: func() {
			_ = params.Shutdowner.Shutdown(fx.ExitCode(1))
		},
	}, bridge.Options{
		KeepMsgs:        cfg.Bridge.Keep(),
		LoginTimeout:    cfg.Bridge.LoginTimeout,
		RecoveryTimeout: cfg.Bridge.RecoveryTimeout,
		FaultPolicy:     cfg.Bridge.FaultPolicy,
		Lang:            cfg.Bridge.Lang,
		Silent:          cfg.Bridge.Silent,
		SendRetries:     cfg.Bridge.SendRetries,
		MaxFileBytes:    cfg.Media.MaxFileBytes,
		AwaitRecovery:   true,
	})
}

// controllerLink holds the live controller connection once polling starts.
type controllerLink struct {
	mu   sync.Mutex
	conn channel.Connection
}

func newControllerLink() *controllerLink {
	return &controllerLink{}
}

func (l *controllerLink) Connection() channel.Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *controllerLink) set(conn channel.Connection) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func provideHealthHandler(log *slog.Logger, svc *bridge.Service, transcoder *media.Transcoder, link *controllerLink) *handlers.PingHandler {
	return handlers.NewPingHandler(log,
		channelchecker.NewChecker(log, link),
		sessionchecker.NewChecker(log, svc),
		mediachecker.NewChecker(transcoder),
	)
}

func provideSessionsHandler(log *slog.Logger, svc *bridge.Service) *handlers.SessionsHandler {
	return handlers.NewSessionsHandler(log, svc)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Config.Server, params.Logger, params.ServerHandlers...)
}

func startJanitor(lc fx.Lifecycle, janitor *media.Janitor) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { janitor.Start(); return nil },
		OnStop:  func(_ context.Context) error { janitor.Stop(); return nil },
	})
}

func startMetricsCollector(lc fx.Lifecycle, svc *bridge.Service) {
	collector := metrics.NewCollector(svc, 0)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { collector.Start(); return nil },
		OnStop:  func(_ context.Context) error { collector.Stop(); return nil },
	})
}

// startBridge begins polling the controller and resurrects persisted sessions.
// A termination signal stops polling first, then alerts tenants and closes sessions.
func startBridge(lc fx.Lifecycle, log *slog.Logger, svc *bridge.Service, adapter *telegram.TelegramAdapter, link *controllerLink, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				conn, err := adapter.Connect(ctx, svc.HandleInbound)
				if err != nil {
					log.Error("controller connect failed", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				link.set(conn)

				result, err := svc.Recover(ctx)
				if err != nil {
					log.Error("session recovery failed", slog.Any("error", err))
					return
				}
				log.Info("session recovery finished",
					slog.Int("restored", len(result.Restored)),
					slog.Int("lost", len(result.Lost)),
				)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if conn := link.Connection(); conn != nil {
				if err := conn.Stop(stopCtx); err != nil && !errors.Is(err, channel.ErrStopNotSupported) {
					log.Warn("controller stop failed", slog.Any("error", err))
				}
			}
			return svc.Shutdown(stopCtx)
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting wxbridge %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
