// Package main is the entry point for the breakroom bot.
//
// main reads configuration, builds the store, the cooldown gate, the fanout
// and the LobbyService, then hands them to internal/server which owns the
// HTTP listener, the Telegram update loop and shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/breakroom/internal/auth"
	"github.com/sakif/breakroom/internal/cache"
	"github.com/sakif/breakroom/internal/config"
	"github.com/sakif/breakroom/internal/cooldown"
	"github.com/sakif/breakroom/internal/handler"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/notify"
	"github.com/sakif/breakroom/internal/repository"
	"github.com/sakif/breakroom/internal/repository/memory"
	"github.com/sakif/breakroom/internal/repository/postgres"
	"github.com/sakif/breakroom/internal/repository/sqlite"
	"github.com/sakif/breakroom/internal/server"
	"github.com/sakif/breakroom/internal/service"
	"github.com/sakif/breakroom/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No configured logger yet.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("store ready", slog.String("kind", string(cfg.Store)))

	health := map[string]handler.Pinger{"store": store}
	closers := []server.Closer{{Name: "store", Close: store.Close}}

	// Cooldowns live in the store unless Redis is configured.
	var cooldowns repository.CooldownRepository = store
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			_ = store.Close()
			return err
		}
		cooldowns = cache.NewCooldownCache(rdb)
		health["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		// Closers run in order; Redis goes before the store.
		closers = append([]server.Closer{{Name: "redis", Close: rdb.Close}}, closers...)
		logger.Info("redis cooldown cache enabled", slog.String("addr", cfg.RedisAddr))
	}

	var (
		api    server.BotAPI
		sender notify.Sender
	)
	if cfg.BotDisabled {
		logger.Warn("BOT_DISABLED set, signals are logged instead of delivered")
		sender = notify.SenderFunc(func(ctx context.Context, userID model.UserID, text string) error {
			logger.Info("signal delivery skipped",
				slog.Int64("userID", int64(userID)),
				slog.String("text", text),
			)
			return nil
		})
	} else {
		botAPI, err := telegram.Connect(cfg.BotToken, cfg.SendTimeout)
		if err != nil {
			_ = store.Close()
			return err
		}
		logger.Info("telegram authorized", slog.String("username", botAPI.Self.UserName))
		api = botAPI
		sender = telegram.NewSender(botAPI)
	}

	fanout := notify.NewFanout(sender, notify.Config{
		Concurrency: cfg.FanoutConcurrency,
		Rate:        cfg.FanoutRate,
		SendTimeout: cfg.SendTimeout,
	}, logger)

	svc := service.NewLobbyService(
		service.NewRegistry(store, logger),
		store,
		cooldown.NewGate(cooldowns, cfg.Cooldown),
		fanout,
		cfg.SignalTemplate,
		logger,
	)

	deps := server.Deps{
		Service: svc,
		Health:  health,
		Closers: closers,
	}
	if cfg.APITokenSecret != "" {
		tokens, err := auth.NewTokenService(cfg.APITokenSecret)
		if err != nil {
			_ = store.Close()
			return err
		}
		deps.Tokens = tokens
	} else if cfg.APIEnabled {
		logger.Warn("API_TOKEN_SECRET not set, /api is unauthenticated")
	}
	if api != nil {
		deps.API = api
		deps.Bot = telegram.NewBot(api, svc, cfg.BotUsername, logger)
	}

	srv, err := server.New(server.Config{
		Addr:          cfg.Addr(),
		APIEnabled:    cfg.APIEnabled,
		Webhook:       cfg.Webhook(),
		WebhookURL:    cfg.WebhookURL,
		WebhookSecret: cfg.WebhookSecret,
		BotUsername:   cfg.BotUsername,
	}, deps, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM and closes everything in deps.Closers.
	return srv.Start()
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.StoreMemory:
		return memory.New(), nil
	default:
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
		return sqlite.New(cfg.DBPath)
	}
}
