package main

import (
	"context"
	"fmt"
	"github.com/jaam8/live_polls/internal/api"
	"github.com/jaam8/live_polls/internal/config"
	"github.com/jaam8/live_polls/internal/mattermost"
	"github.com/jaam8/live_polls/internal/realtime"
	"github.com/jaam8/live_polls/internal/repository"
	srv "github.com/jaam8/live_polls/internal/service"
	"github.com/jaam8/live_polls/pkg/logger"
	"github.com/jaam8/live_polls/pkg/postgres"
	"github.com/jaam8/live_polls/pkg/tarantool"
	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
	logg "log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		logg.Fatalf("failed to load config: %s", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logg.Fatalf("failed to initalize logger: %s", err)
	}
	defer func() { _ = log.Sync() }()

	repo, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	defer closeStore()

	service := srv.New(repo, log)
	if cfg.SeedDemo {
		if err = service.SeedDemo(ctx); err != nil {
			log.Fatal("failed to seed demo polls", zap.Error(err))
		}
	}

	registry := realtime.NewRegistry(log)
	var mirrors []realtime.Mirror
	var client *model.Client4
	if cfg.Mattermost.Enabled() {
		client = model.NewAPIv4Client(cfg.Mattermost.URL)
		client.SetToken(cfg.Mattermost.BotToken)
		if cfg.Mattermost.ChannelID != "" {
			mirrors = append(mirrors, mattermost.NewChannelMirror(client, cfg.Mattermost.ChannelID, log))
		}
	}
	dispatcher := realtime.NewDispatcher(registry, log, mirrors...)
	gateway := realtime.NewGateway(service, registry, dispatcher, log, cfg.Realtime)

	if client != nil {
		stopBot, err := startBot(ctx, cfg.Mattermost, client, service, dispatcher, log)
		if err != nil {
			log.Fatal("failed to start mattermost bot", zap.Error(err))
		}
		defer stopBot()
	}

	handler := api.New(service, registry, dispatcher, log)
	router := api.NewRouter(handler, gateway.ServeWS, cfg.Realtime.AllowedOrigins, log)
	server := api.NewServer(cfg.HTTPPort, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop http server", zap.Error(err))
	}
	gateway.Shutdown()
	log.Info("server graceful stopped")
}

func openStore(cfg *config.Config, log *zap.Logger) (srv.PollRepository, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverTarantool:
		conn, err := tarantool.New(cfg.Tarantool)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewTarantool(conn, log), func() { _ = conn.CloseGraceful() }, nil
	case config.DriverPostgres:
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err = postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repository.NewPostgres(db, log), func() { _ = db.Close() }, nil
	default:
		return repository.NewMemory(log), func() {}, nil
	}
}

func startBot(
	ctx context.Context,
	cfg config.Mattermost,
	client *model.Client4,
	service *srv.PollService,
	dispatcher *realtime.Dispatcher,
	log *zap.Logger,
) (func(), error) {
	user, _, err := client.GetUser("me", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}
	webSocketClient, err := model.NewWebSocketClient4(cfg.WsURL, cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to webSocket: %w", err)
	}
	webSocketClient.Listen()

	bot := mattermost.NewBot(service, dispatcher, client, user.Id, log)
	go bot.Listen(ctx, webSocketClient.EventChannel)
	log.Info("mattermost bot started", zap.String("bot_id", user.Id))
	return webSocketClient.Close, nil
}
