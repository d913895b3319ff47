package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"keymeter/internal/account"
	"keymeter/internal/admin"
	"keymeter/internal/auth"
	"keymeter/internal/config"
	"keymeter/internal/db"
	"keymeter/internal/gateway"
	"keymeter/internal/logger"
	"keymeter/internal/proxy"
	"keymeter/internal/quota"
	"keymeter/internal/scheduler"
	"keymeter/internal/usagelog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// customRecovery recovers from panics and handles http.ErrAbortHandler
// gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func main() {
	cfg, warnings, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors.
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	for _, w := range warnings {
		log.Warn(w)
	}

	database, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	verifier, err := auth.NewOwnerVerifier(cfg.Auth)
	if err != nil {
		log.Error("Error initializing owner auth", "error", err)
		os.Exit(1)
	}

	engine := quota.NewEngine(database)
	usageLogger := usagelog.New(database, cfg.UsageLog.QueueSize, log)

	sched := scheduler.NewScheduler(database, cfg.UsageLog.RetentionDays, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started", "retention_days", cfg.UsageLog.RetentionDays)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(customRecovery(log))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	account.SetupRoutes(router, database, engine, verifier, log)
	admin.SetupRoutes(router, database, cfg)

	// Metered endpoints: the gateway middleware authorizes and counts,
	// the proxies forward.
	metered := router.Group("/api/v1")
	metered.Use(gateway.Middleware(database, engine, usageLogger, log))
	upstreams := []struct {
		path   string
		name   string
		target string
	}{
		{"/generate", "generate", cfg.Upstreams.Generate},
		{"/analyze", "analyze", cfg.Upstreams.Analyze},
		{"/voice", "voice", cfg.Upstreams.Voice},
	}
	for _, up := range upstreams {
		handler, err := proxy.Handler(up.name, up.target, log)
		if err != nil {
			log.Error("Error creating upstream proxy", "upstream", up.name, "error", err)
			os.Exit(1)
		}
		metered.POST(up.path, handler)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop()
	usageLogger.Close()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exiting")
}
