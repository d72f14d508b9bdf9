package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/infisparks/medfordhrms-sub002/internal/config"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/admission"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/appointment"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/bed"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/billing"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/auth"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/middleware"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sandbox"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/telemetry"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hrms-server",
		Short: "Hospital front-desk record sync server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				logger.Fatal().Msg("DATABASE_URL is required for migrate")
			}

			ctx := context.Background()
			pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info().Msg("migration complete")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the store with synthetic demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			client, cleanup, err := newStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.AdmissionCount, _ = cmd.Flags().GetInt("admissions")
			seedCfg.AppointmentCount, _ = cmd.Flags().GetInt("appointments")
			return sandbox.NewSeeder(client, seedCfg, logger).Run(ctx)
		},
	}
	cmd.Flags().Int("admissions", sandbox.DefaultSeedConfig().AdmissionCount, "number of admissions to generate")
	cmd.Flags().Int("appointments", sandbox.DefaultSeedConfig().AppointmentCount, "number of appointments to generate")
	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newStore builds the configured store backend. The cleanup func closes
// whatever the backend holds open.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Client, func(), error) {
	if cfg.StoreBackend == "memory" {
		m := store.NewMemory()
		return m, m.Close, nil
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	pg, err := store.NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, func() {
		pg.Close()
		pool.Close()
	}, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	client, cleanup, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer cleanup()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	metrics := telemetry.NewProvider()
	hub := websocket.NewHub(logger)

	// Domain services
	bedSvc := bed.NewService(client, logger)
	admSvc := admission.NewService(client, bedSvc, billing.JoinFunc(client), admission.Options{
		UHIDLength:      cfg.UHIDLength,
		UndoPassword:    cfg.UndoPassword,
		JoinFanout:      cfg.JoinFanout,
		HistoryPageSize: cfg.HistoryPageSize,
	}, logger)
	admSvc.SetPublisher(websocket.NewFeed(hub, "admissions"))
	defer admSvc.Close()

	apptSvc := appointment.NewService(client, appointment.Options{UHIDLength: cfg.UHIDLength}, logger)
	apptSvc.SetPublisher(websocket.NewFeed(hub, "appointments"))
	defer apptSvc.Close()

	if err := admSvc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("admission feed degraded at startup")
	}
	if err := apptSvc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("appointment feed degraded at startup")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.Gzip())

	// Unauthenticated endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"degraded": admSvc.Degraded() || apptSvc.Degraded(),
		})
	})
	e.GET("/metrics", metrics.Handler())

	// API group
	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	if cfg.IsDev() {
		api.Use(auth.DevMiddleware())
	} else {
		api.Use(auth.Middleware(cfg.AuthSecret))
	}
	api.Use(middleware.Audit(logger))

	admHandler := admission.NewHandler(admSvc)
	admHandler.SetMetrics(metrics)
	admHandler.RegisterRoutes(api)

	apptHandler := appointment.NewHandler(apptSvc)
	apptHandler.SetMetrics(metrics)
	apptHandler.RegisterRoutes(api)

	// WebSocket endpoint (no auth; the socket only carries data the list
	// endpoints already expose)
	websocket.NewHandler(hub).RegisterRoutes(e.Group(""))

	// Periodic gauge refresh for operator dashboards
	stopGauges := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				open := int64(admSvc.Subscriptions() + apptSvc.Subscriptions())
				metrics.SetGauge(telemetry.MetricSubscriptionsOpen, open)
				metrics.SetGauge(telemetry.MetricWebsocketClients, int64(hub.ClientCount()))
			case <-stopGauges:
				return
			}
		}
	}()
	defer close(stopGauges)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
