package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/replybot/internal/api"
	"github.com/ashureev/replybot/internal/config"
	"github.com/ashureev/replybot/internal/control"
	"github.com/ashureev/replybot/internal/conversation"
	"github.com/ashureev/replybot/internal/generator"
	"github.com/ashureev/replybot/internal/middleware"
	"github.com/ashureev/replybot/internal/pipeline"
	"github.com/ashureev/replybot/internal/ratelimit"
	"github.com/ashureev/replybot/internal/reply"
	"github.com/ashureev/replybot/internal/session"
	"github.com/ashureev/replybot/internal/store"
	"github.com/ashureev/replybot/internal/transport"
	"github.com/ashureev/replybot/internal/typing"
	"github.com/ashureev/replybot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var seed uint64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reply server and control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), seed)
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for fallback and typing randomness (0 = time based)")
	return cmd
}

func runServe(parent context.Context, seed uint64) error {
	slog.SetDefault(newLogger(slog.LevelInfo))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	logger := newLogger(cfg.SlogLevel())
	slog.SetDefault(logger)
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "generator", cfg.Generator.Backend)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	fallbacks, err := reply.LoadFallbackSet(cfg.Reply.FallbacksPath, rand.New(rand.NewPCG(seed, 1)))
	if err != nil {
		slog.Error("Failed to load fallback replies", "error", err, "path", cfg.Reply.FallbacksPath)
		return err
	}

	gen, closeGen, err := newGenerator(parent, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		return err
	}
	defer closeGen()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mgr *session.Manager
	limiter := ratelimit.New(cfg.Reply.RateLimitMax, cfg.Reply.RateLimitWindow)
	history := conversation.New(cfg.Reply.ContextCapacity, cfg.Reply.ContextTTL,
		conversation.WithSweepInterval(cfg.Reply.ContextSweep),
		conversation.WithSweepHook(func(now time.Time) {
			if n := limiter.Sweep(now); n > 0 {
				slog.Debug("Swept idle rate windows", "count", n)
			}
			mgr.Prune(now)
		}),
		conversation.WithLogger(logger),
	)

	pipe := pipeline.New(pipeline.Deps{
		Limiter:   limiter,
		History:   history,
		Generator: gen,
		Fallbacks: fallbacks,
		Typing:    typing.NewSimulator(cfg.Reply.TypingMinDelay, cfg.Reply.TypingMaxDelay, rand.New(rand.NewPCG(seed, 2)), logger),
		Repo:      repo,
	},
		pipeline.WithLogger(logger),
		pipeline.WithTimeouts(cfg.Generator.Timeout, cfg.Reply.PersistTimeout),
		pipeline.WithMaxChars(cfg.Reply.MaxChars),
	)

	hub := control.NewHub(cfg.FrontendURL, cfg.IsDevelopment(), logger)
	factory := transport.NewBridgeFactory(transport.BridgeConfig{
		URL:        cfg.Bridge.URL,
		Token:      cfg.Bridge.Token,
		AckTimeout: cfg.Bridge.AckTimeout,
	}, logger)
	mgr = session.NewManager(factory, pipe, repo,
		session.WithNotifier(hub),
		session.WithLogger(logger),
		session.WithRetention(cfg.SessionRetention),
	)
	hub.SetSessions(mgr)

	// The sweep hook prunes mgr, so start it only once mgr exists.
	history.Start(ctx)
	defer history.Stop()

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(cfg, repo, mgr, hub),
		ReadTimeout: 30 * time.Second,
		// Websockets stay open; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			mgr.StopAll()
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")
	mgr.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generator.Generator, func(), error) {
	switch cfg.Generator.Backend {
	case config.BackendGRPC:
		client, err := generator.NewGrpcClient(cfg.Generator.Addr, logger)
		if err != nil {
			return nil, nil, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.WaitReady(waitCtx); err != nil {
			// Replies fall back to canned text until the service is up.
			slog.Warn("Generator service not ready yet", "addr", cfg.Generator.Addr, "error", err)
		} else {
			slog.Info("Connected to generator service", "addr", cfg.Generator.Addr)
		}
		return client, client.Close, nil
	case config.BackendHTTP:
		if cfg.Generator.APIKey == "" {
			slog.Warn("GENERATOR_API_KEY not set; requests may be rejected")
		}
		client := generator.NewHTTPClient(cfg.Generator.APIKey, cfg.Generator.APIBase, cfg.Generator.Model, cfg.Generator.BotName, logger)
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown generator backend %q", cfg.Generator.Backend)
	}
}

func newRouter(cfg *config.Config, repo store.Repository, mgr *session.Manager, hub *control.Hub) http.Handler {
	baseHandler := api.NewHandler(repo, mgr)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, mgr, hub)

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	r.Get("/ws/control", hub.ServeHTTP)

	r.Handle("/*", web.Handler())

	return r
}
