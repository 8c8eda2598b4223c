// Package server sets up the HTTP server, the Telegram update source and
// all route definitions.
//
// This is the composition root for the transports: main.go builds the
// stores and the LobbyService, and Server decides how updates reach the bot
// (long polling or webhook), which HTTP routes exist, and in what order
// everything stops.
//
// ROUTES:
//
//	GET    /healthz                      → store (and Redis) health
//	POST   /telegram/webhook             → Telegram updates (webhook mode)
//	GET    /api/users/{userID}           → lobby status         (API_ENABLED, bearer token when API_TOKEN_SECRET is set)
//	POST   /api/users/{userID}/lobby     → create lobby         (API_ENABLED)
//	DELETE /api/users/{userID}/lobby     → leave lobby          (API_ENABLED)
//	POST   /api/users/{userID}/join      → join by invite code  (API_ENABLED)
//	GET    /api/users/{userID}/invite    → invite code and link (API_ENABLED)
//	POST   /api/users/{userID}/signal    → signal the lobby     (API_ENABLED)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sakif/breakroom/internal/auth"
	"github.com/sakif/breakroom/internal/handler"
	"github.com/sakif/breakroom/internal/middleware"
	"github.com/sakif/breakroom/internal/service"
	"github.com/sakif/breakroom/internal/telegram"
)

// WebhookPath is where Telegram delivers updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// Config holds server configuration.
type Config struct {
	Addr          string
	APIEnabled    bool
	Webhook       bool // deliver updates over HTTP instead of long polling
	WebhookURL    string
	WebhookSecret string
	BotUsername   string
}

// BotAPI is the Telegram client as the server uses it: the bot's API plus
// the polling controls of *tgbotapi.BotAPI.
type BotAPI interface {
	telegram.API
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Closer is a resource released after the HTTP server and the bot stop.
type Closer struct {
	Name  string
	Close func() error
}

// Deps are the already-built components the server wires together. API and
// Bot are nil when the Telegram transport is disabled. A nil Tokens leaves
// /api open.
type Deps struct {
	Service *service.LobbyService
	API     BotAPI
	Bot     *telegram.Bot
	Tokens  *auth.TokenService
	Health  map[string]handler.Pinger
	Closers []Closer
}

// Server represents the HTTP server, the update loop and the resources they
// own.
type Server struct {
	router *chi.Mux
	config Config
	deps   Deps
	logger *slog.Logger

	// ctx outlives individual requests; webhook updates are handled on it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server and registers its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if cfg.Webhook && deps.Bot != nil && cfg.WebhookURL == "" {
		return nil, errors.New("server: webhook mode needs a webhook URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	health := handler.NewHealthHandler(s.deps.Health, s.logger)
	s.router.Get("/healthz", health.HandleHealth)

	if s.config.Webhook && s.deps.Bot != nil {
		bot := s.deps.Bot
		webhook := handler.NewWebhookHandler(s.config.WebhookSecret, func(u tgbotapi.Update) {
			bot.Dispatch(s.ctx, u)
		}, s.logger)
		s.router.Post(WebhookPath, webhook.HandleWebhook)
	}

	if s.config.APIEnabled {
		lobbies := handler.NewLobbyHandler(s.deps.Service, s.config.BotUsername, s.logger)
		s.router.Route("/api", func(r chi.Router) {
			if s.deps.Tokens != nil {
				r.Use(auth.RequireToken(s.deps.Tokens, s.logger))
			}
			lobbies.Routes(r)
		})
	}
}

// Start runs the HTTP server and the update loop until SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop long polling so no new updates arrive
//  2. Stop accepting HTTP connections and drain in-flight requests (30s)
//  3. Wait for update handlers still running, then cancel their context
//  4. Close stores and Redis
func (s *Server) Start() error {
	defer s.closeAll()
	defer s.cancel()

	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.startUpdates(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.config.Addr),
			slog.Bool("webhook", s.config.Webhook),
			slog.Bool("api", s.config.APIEnabled),
			slog.Bool("bot", s.deps.Bot != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.stopUpdates()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		s.stopUpdates()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if s.deps.Bot != nil {
			s.deps.Bot.Wait()
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// startUpdates registers the webhook, or starts long polling.
func (s *Server) startUpdates() error {
	if s.deps.Bot == nil || s.deps.API == nil {
		s.logger.Warn("telegram transport disabled")
		return nil
	}

	if s.config.Webhook {
		if err := telegram.SetWebhook(s.deps.API, s.config.WebhookURL, s.config.WebhookSecret); err != nil {
			return err
		}
		s.logger.Info("webhook registered", slog.String("url", s.config.WebhookURL))
		return nil
	}

	// getUpdates is refused while a webhook is set.
	if err := telegram.DeleteWebhook(s.deps.API); err != nil {
		return err
	}
	updates := s.deps.API.GetUpdatesChan(telegram.PollConfig())
	go s.deps.Bot.Run(s.ctx, updates)
	s.logger.Info("long polling started")
	return nil
}

func (s *Server) stopUpdates() {
	if s.deps.API != nil && !s.config.Webhook {
		s.deps.API.StopReceivingUpdates()
	}
}

func (s *Server) closeAll() {
	for _, c := range s.deps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Error("failed to close resource",
				slog.String("resource", c.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}
