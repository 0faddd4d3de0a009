package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/database"
	"github.com/beaconlabs/beacon/internal/handlers"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/middleware"
	"github.com/beaconlabs/beacon/internal/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{
			"env": cfg.Server.Environment,
		})
	}

	logger.Info("Starting Beacon server...")

	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	logger.Info("Connecting to Redis", map[string]interface{}{
		"addr": cfg.Redis.Addr(),
	})
	redisDB, err := database.NewRedisDB(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	// Initialize services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	redisAdapter := services.NewRedisAdapter(redisDB.Client)

	userService := services.NewUserService(dbAdapter)
	authService := services.NewAuthService(userService, redisAdapter)
	emailService := services.NewEmailService(&cfg.Email)
	friendService := services.NewFriendService(dbAdapter)
	reconcileService := services.NewReconcileService(userService, friendService)
	presenceService := services.NewPresenceService(dbAdapter, redisAdapter, &cfg.Presence)
	notificationService := services.NewNotificationService(dbAdapter, emailService)

	friendService.SetNotificationService(notificationService)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisDB)
	authHandler := handlers.NewAuthHandler(authService, userService, cfg.Server.Secure)
	friendHandler := handlers.NewFriendHandler(friendService, reconcileService)
	presenceHandler := handlers.NewPresenceHandler(presenceService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Background cleanup
	if err := notificationService.CleanupOld(context.Background()); err != nil {
		logger.Warn("Notification cleanup failed", map[string]interface{}{"error": err.Error()})
	}
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go func() {
		interval := resolvePresenceCleanupInterval(logger, os.LookupEnv)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if err := presenceService.CleanupOld(context.Background()); err != nil {
					logger.Warn("Presence cleanup failed", map[string]interface{}{"error": err.Error()})
				}
				if err := notificationService.CleanupOld(context.Background()); err != nil {
					logger.Warn("Notification cleanup failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(authService, userService)
	securityHeaders := middleware.NewSecurityHeaders(cfg.Server.Secure)
	requestLogger := middleware.NewRequestLogger(logger)

	heartbeatLimit := resolveHeartbeatRateLimit(cfg, logger, os.LookupEnv)
	heartbeatLimiter := middleware.NewRateLimiter(redisDB.Client, heartbeatLimit, 1*time.Minute, "ratelimit:heartbeat:", func(r *http.Request) string {
		user := handlers.GetUserFromContext(r.Context())
		if user != nil {
			return user.ID.String()
		}
		return ""
	}, true)

	requireSession := authMiddleware.RequireSession

	// Set up router
	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/auth/me", requireSession(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT /api/auth/display-name", requireSession(http.HandlerFunc(authHandler.UpdateDisplayName)))

	// Friend endpoints
	mux.Handle("GET /api/friends", requireSession(http.HandlerFunc(friendHandler.List)))
	mux.Handle("GET /api/friends/search", requireSession(http.HandlerFunc(friendHandler.Search)))
	mux.Handle("POST /api/friends/request", requireSession(http.HandlerFunc(friendHandler.SendRequest)))
	mux.Handle("GET /api/friends/requests/received", requireSession(http.HandlerFunc(friendHandler.ListPendingReceived)))
	mux.Handle("GET /api/friends/requests/sent", requireSession(http.HandlerFunc(friendHandler.ListPendingSent)))
	mux.Handle("GET /api/friends/{id}/status", requireSession(http.HandlerFunc(friendHandler.Status)))
	mux.Handle("PUT /api/friends/{id}/accept", requireSession(http.HandlerFunc(friendHandler.AcceptRequest)))
	mux.Handle("PUT /api/friends/{id}/ignore", requireSession(http.HandlerFunc(friendHandler.IgnoreRequest)))
	mux.Handle("DELETE /api/friends/{id}/cancel", requireSession(http.HandlerFunc(friendHandler.CancelRequest)))
	mux.Handle("DELETE /api/friends/{id}", requireSession(http.HandlerFunc(friendHandler.Remove)))

	// Presence endpoints
	mux.Handle("POST /api/presence/heartbeat", requireSession(heartbeatLimiter.Middleware(http.HandlerFunc(presenceHandler.Heartbeat))))
	mux.Handle("GET /api/presence/hourly", requireSession(http.HandlerFunc(presenceHandler.Hourly)))
	mux.Handle("GET /api/presence/daily", requireSession(http.HandlerFunc(presenceHandler.Daily)))
	mux.Handle("GET /api/presence/chart.png", requireSession(http.HandlerFunc(presenceHandler.Chart)))
	mux.Handle("GET /api/presence/friends", requireSession(http.HandlerFunc(presenceHandler.Friends)))
	mux.Handle("GET /api/presence/settings", requireSession(http.HandlerFunc(presenceHandler.GetSettings)))
	mux.Handle("PUT /api/presence/settings", requireSession(http.HandlerFunc(presenceHandler.UpdateSettings)))

	// Notification endpoints
	mux.Handle("GET /api/notifications", requireSession(http.HandlerFunc(notificationHandler.List)))
	mux.Handle("GET /api/notifications/unread-count", requireSession(http.HandlerFunc(notificationHandler.UnreadCount)))
	mux.Handle("PUT /api/notifications/read-all", requireSession(http.HandlerFunc(notificationHandler.MarkAllRead)))
	mux.Handle("PUT /api/notifications/{id}/read", requireSession(http.HandlerFunc(notificationHandler.MarkRead)))
	mux.Handle("DELETE /api/notifications/{id}", requireSession(http.HandlerFunc(notificationHandler.Delete)))

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = authMiddleware.Authenticate(handler)
	handler = securityHeaders.Apply(handler)
	handler = requestLogger.Apply(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")
		cleanupCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{
		"addr": addr,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

func resolveHeartbeatRateLimit(cfg *config.Config, logger *logging.Logger, lookupEnv func(string) (string, bool)) int64 {
	limit := int64(10)
	if cfg.Server.Environment == "development" {
		limit = 100
		logger.Info("Using development heartbeat rate limit", map[string]interface{}{"limit": limit})
	}
	if v, ok := lookupEnv("HEARTBEAT_RATE_LIMIT"); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			limit = parsed
			logger.Info("Using heartbeat rate limit from env", map[string]interface{}{"limit": limit})
		} else {
			logger.Warn("Invalid HEARTBEAT_RATE_LIMIT; using default", map[string]interface{}{
				"value": v,
				"limit": limit,
			})
		}
	}
	return limit
}

func resolvePresenceCleanupInterval(logger *logging.Logger, lookupEnv func(string) (string, bool)) time.Duration {
	interval := 24 * time.Hour
	if value, ok := lookupEnv("PRESENCE_CLEANUP_INTERVAL"); ok && value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			logger.Warn("Invalid PRESENCE_CLEANUP_INTERVAL; using default", map[string]interface{}{
				"value":   value,
				"default": interval.String(),
			})
		} else {
			interval = parsed
			logger.Info("Using presence cleanup interval from env", map[string]interface{}{"interval": interval.String()})
		}
	}
	return interval
}
