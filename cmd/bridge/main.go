// Package main is the entry point for the bridge server. One binary hosts
// the hook endpoints, the UI API, the WebSocket gateway, and the Telegram
// bot, all sharing the session registry and the event bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/api"
	"github.com/etwicaksono/droid-remote/internal/auth"
	"github.com/etwicaksono/droid-remote/internal/bot"
	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/constants"
	"github.com/etwicaksono/droid-remote/internal/common/httpmw"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/common/tracing"
	"github.com/etwicaksono/droid-remote/internal/db"
	"github.com/etwicaksono/droid-remote/internal/events"
	gateway "github.com/etwicaksono/droid-remote/internal/gateway/websocket"
	"github.com/etwicaksono/droid-remote/internal/hooks"
	"github.com/etwicaksono/droid-remote/internal/images"
	"github.com/etwicaksono/droid-remote/internal/notifier"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/session/store"
	"github.com/etwicaksono/droid-remote/internal/task"
	ws "github.com/etwicaksono/droid-remote/pkg/websocket"
)

const socketPath = "/ws"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting bridge server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: in-memory by default, NATS when configured.
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}

	// Storage: a single writer connection plus a read-only pool over the
	// same SQLite file.
	pool, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer pool.Close()
	log.Info("Database initialized", zap.String("path", cfg.Database.Path))

	sessions, err := store.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize session store", zap.Error(err))
	}
	perms, err := permission.NewStore(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize permission store", zap.Error(err))
	}
	tasks, err := task.NewStore(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize task store", zap.Error(err))
	}

	// Core services. The rendezvous queue is where hook waits meet remote
	// replies; everything that answers the Agent goes through it.
	waits := rendezvous.New(log)
	notify := notifier.New(eventBus, sessions, log)
	reg := registry.New(sessions, perms, waits, notify, log)
	engine := permission.NewEngine(perms, waits, notify, log)
	executor := task.NewExecutor(cfg.Agent, sessions, tasks, notify, log)
	imgs := images.NewService(cfg.Uploads.Dir, "", sessions)
	tokens := auth.NewTokenService(cfg.Auth)

	// Telegram bot, only when a token is configured. A startup failure
	// disables the bot surface; hooks and the web UI still work.
	var botSvc *bot.Service
	if cfg.Telegram.BotToken != "" {
		transport, err := bot.NewTelegramTransport(cfg.Telegram.BotToken, log)
		if err != nil {
			log.Warn("Telegram authentication failed - bot surface disabled", zap.Error(err))
		} else {
			botSvc = bot.New(cfg, transport, reg, engine, perms, waits, executor, tasks, eventBus, log)
			if err := botSvc.Start(ctx); err != nil {
				log.Warn("Failed to start bot service - bot surface disabled", zap.Error(err))
				botSvc = nil
			}
		}
	} else {
		log.Info("No Telegram token configured - bot surface disabled")
	}
	botConnected := func() bool { return botSvc != nil && botSvc.Connected() }

	// WebSocket gateway.
	dispatcher := ws.NewDispatcher()
	hub := gateway.NewHub(dispatcher, notify.SessionsPayload, log)
	gateway.NewHandlers(reg, engine, waits, notify, log).RegisterActions(dispatcher)
	gw := gateway.NewGateway(hub, eventBus, log)
	if err := gw.Start(); err != nil {
		log.Fatal("Failed to start WebSocket gateway", zap.Error(err))
	}
	go hub.Run(ctx)

	// HTTP router.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "bridge"))
	router.Use(httpmw.OtelTracing("bridge"))
	// Session refs in URLs may contain encoded slashes (project paths).
	router.UseRawPath = true

	hookGroup := router.Group("/hooks", auth.RequireSecret(cfg.Auth))
	hooks.New(reg, engine, waits, notify, cfg.Timeouts, log).Register(hookGroup)

	uiGroup := router.Group("/", auth.RequireAuth(cfg.Auth, tokens, socketPath))
	api.New(cfg, reg, engine, perms, waits, notify, executor, tasks, imgs, tokens, botConnected, log).Register(uiGroup)
	uiGroup.GET(socketPath, gw.HandleConnection)

	// Uploaded images are served outside the auth group; their public IDs
	// are random UUIDs.
	router.Static("/uploads", imgs.BaseDir())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Bridge server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("websocket", socketPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bridge server...")
	cancel()

	// Release suspended hook waits first so the server drain below does not
	// stall on long-poll handlers.
	waits.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if botSvc != nil {
		botSvc.Stop()
	}
	gw.Stop()
	executor.Shutdown()

	busCleanup()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("Bridge server stopped")
}
