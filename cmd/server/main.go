// Halcyon Surgical portal server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyon-surgical/portal/internal/api"
	"github.com/halcyon-surgical/portal/internal/config"
	"github.com/halcyon-surgical/portal/internal/identity"
	"github.com/halcyon-surgical/portal/internal/middleware"
	"github.com/halcyon-surgical/portal/internal/notify"
	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/scheduling"
	"github.com/halcyon-surgical/portal/internal/store"
	"github.com/halcyon-surgical/portal/internal/taskboard"
	"github.com/halcyon-surgical/portal/web"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	kv, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := kv.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	ids, err := identity.Connect(context.Background(), identity.Settings{
		APIKey:            cfg.Identity.APIKey,
		ProjectID:         cfg.Identity.ProjectID,
		CredentialsPath:   cfg.Identity.CredentialsPath,
		OAuthClientID:     cfg.Identity.OAuthClientID,
		OAuthClientSecret: cfg.Identity.OAuthClientSecret,
		OAuthRedirectURL:  cfg.Identity.OAuthRedirectURL,
	})
	if err != nil {
		slog.Error("Failed to initialize identity service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ids.Close(); closeErr != nil {
			slog.Error("Failed to close identity services", "error", closeErr)
		}
	}()

	var transport notify.Transport
	if cfg.HasEmail() {
		transport = notify.NewEmailJS(notify.EmailJSConfig{
			ServiceID:  cfg.Email.ServiceID,
			TemplateID: cfg.Email.TemplateID,
			PublicKey:  cfg.Email.PublicKey,
			PrivateKey: cfg.Email.PrivateKey,
		}, nil)
		slog.Info("Email service configured", "service_id", cfg.Email.ServiceID)
	} else {
		slog.Warn("Email service not configured, contact form disabled")
	}

	bridge := scheduling.NewBridge(scheduling.Settings{
		ClientID:        cfg.Calendar.ClientID,
		DataCenter:      cfg.Calendar.DataCenter,
		ElementToken:    cfg.Calendar.ElementToken,
		Sub:             cfg.Calendar.Sub,
		Location:        cfg.Location(),
		DurationMinutes: cfg.Calendar.DurationMinutes,
	}, scheduling.NewLoader(cfg.Calendar.ScriptURL, nil))
	if !bridge.Configured() {
		slog.Warn("Scheduling widget not configured")
	}

	boards := taskboard.NewRegistry(kv)
	if keys, err := boards.Stored(context.Background()); err != nil {
		slog.Warn("Could not list stored task boards", "error", err)
	} else {
		slog.Info("Task boards in storage", "count", len(keys))
	}

	ctrl := portal.New(portal.Deps{
		Provider:  ids.Provider,
		Records:   ids.Records,
		Boards:    boards,
		Bridge:    bridge,
		Transport: transport,

		RecordTimeout: cfg.Identity.RecordTimeout,
	})

	// Initialize handlers.
	handler := api.NewHandler(ctrl, kv, api.Features{
		Identity:  cfg.HasIdentity(),
		Federated: cfg.HasIdentity() && cfg.Identity.OAuthClientID != "",
		Email:     cfg.HasEmail(),
		Calendar:  cfg.HasCalendar(),
	}, api.WithOrigins(cfg.AllowedOrigins(), cfg.IsDevelopment()))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Auth event streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.StartSweeper(ctx, cfg.VisitorTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "auth_streams", handler.Streams().Count(), "visitors", ctrl.Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown.
	handler.Streams().CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	ctrl.Close()

	slog.Info("Server stopped successfully")
}
