package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/api"
	"github.com/aethra/lowcode/internal/chat"
	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/engine"
	"github.com/aethra/lowcode/internal/logging"
	"github.com/aethra/lowcode/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("starting lowcode", zap.String("version", Version), zap.String("port", cfg.Server.Port))

	if cfg.Watch.Enabled {
		if err := a.schema.Watch(ctx, cfg.Watch.Debounce); err != nil {
			logger.Warn("model watcher disabled", zap.Error(err))
		}
	}

	gin.SetMode(cfg.Server.Mode)

	apiHandler := api.NewHandler(
		engine.NewResolver(a.db, a.schema, logging.Component(logger, "engine")),
		a.jwt, a.perms, cfg.Auth, logging.Component(logger, "api"),
	)
	admin := api.NewAdminHandler(a.tools, a.registry, logging.Component(logger, "admin"))
	for _, b := range admin.Bindings() {
		names := a.registry.Bind(b)
		logger.Debug("bound controller operation", zap.String("controller", b.Controller),
			zap.String("method", b.Method), zap.Strings("names", names))
	}

	limiter := api.NewLoginRateLimiter()
	go limiter.Run(ctx, 5*time.Minute)

	chatHandler := api.NewChatHandler(newChatService(ctx, a), cfg.CORS.Origins(), logging.Component(logger, "chat"))

	router := api.SetupRouter(api.Handlers{
		API:       apiHandler,
		Admin:     admin,
		Auth:      api.NewAuthHandler(a.db, a.jwt, a.perms, limiter, logging.Component(logger, "auth")),
		Generator: api.NewGeneratorHandler(a.codec, a.compiler, a.modules.ModelDirs),
		Chat:      chatHandler,
		MCP:       api.NewMCPHandler(mcp.NewServer(a.registry, "lowcode", Version, logging.Component(logger, "mcp"))),
	}, api.RouterOptions{CORS: cfg.CORS, AccessLog: cfg.Server.Mode != gin.ReleaseMode})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	chatHandler.Wait()
	return nil
}

// newChatService returns nil when no provider is configured; the chat routes
// then answer 503.
func newChatService(ctx context.Context, a *app) *chat.Service {
	cfg, logger := a.cfg, logging.Component(a.logger, "chat")

	client, err := chat.NewClient(cfg.LLM, logger)
	if err != nil {
		logger.Warn("chat disabled", zap.Error(err))
		return nil
	}
	if _, p, _ := cfg.LLM.Active(); p.APIKey == "" {
		logger.Warn("chat disabled: no api key", zap.String("provider", client.Provider()))
		return nil
	}

	store, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("chat disabled", zap.Error(err))
		return nil
	}

	return chat.NewService(client, a.registry, store, chat.Options{
		SettleDelay: cfg.Chat.SettleDelay,
		Logger:      logger,
	})
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chat.SessionStore, error) {
	switch cfg.Chat.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := chat.NewRedisStore(client, cfg.Redis.Prefix, cfg.Chat.MaxMessages, cfg.Chat.MaxAge)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		go func() {
			<-ctx.Done()
			_ = client.Close()
		}()
		logger.Info("chat sessions stored in redis", zap.String("addr", cfg.Redis.Addr))
		return store, nil
	default:
		store := chat.NewMemoryStore(cfg.Chat.MaxMessages, cfg.Chat.MaxAge)
		store.StartSweeper(ctx, cfg.Chat.SweepInterval)
		return store, nil
	}
}
