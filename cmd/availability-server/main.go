package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/availability/internal/config"
	"github.com/ehr/availability/internal/domain/availability"
	"github.com/ehr/availability/internal/platform/auth"
	"github.com/ehr/availability/internal/platform/db"
	"github.com/ehr/availability/internal/platform/facility"
	"github.com/ehr/availability/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "availability-server",
		Short:        "Doctor availability API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the availability API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.UpTo(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version (0 = all)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, dir), pool.Close, nil
}

// slotsCmd prints the slots every active template yields on a date, the same
// list GET /api/v1/availability-slots returns.
func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print derived slots for a facility and date",
		RunE: func(cmd *cobra.Command, args []string) error {
			facilityFlag, _ := cmd.Flags().GetString("facility")
			dateFlag, _ := cmd.Flags().GetString("date")
			doctorFlag, _ := cmd.Flags().GetString("doctor")

			facilityID, err := uuid.Parse(facilityFlag)
			if err != nil {
				return fmt.Errorf("--facility must be a uuid: %w", err)
			}
			date, err := availability.ParseDate(dateFlag)
			if err != nil {
				return err
			}
			var doctorID *uuid.UUID
			if doctorFlag != "" {
				id, err := uuid.Parse(doctorFlag)
				if err != nil {
					return fmt.Errorf("--doctor must be a uuid: %w", err)
				}
				doctorID = &id
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			repo, pool, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			svc := availability.NewService(repo, logger, availability.Options{ListFailOpen: cfg.ListFailOpen})
			slots, err := svc.SlotsForDate(cmd.Context(), facilityID, date, doctorID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(slots)
		},
	}
	cmd.Flags().String("facility", "", "Facility id")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	cmd.Flags().String("doctor", "", "Only this doctor's slots")
	_ = cmd.MarkFlagRequired("facility")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newLogger(cfg *config.Config, out *os.File) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openStore returns the template store selected by STORE. The pool is nil for
// the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (availability.TemplateRepository, *pgxpool.Pool, error) {
	if cfg.Store == config.StoreMemory {
		return availability.NewMemoryRepo(), nil, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return availability.NewTemplateRepoPG(pool), pool, nil
}

// newServer wires middleware and routes. It performs no I/O.
func newServer(cfg *config.Config, logger zerolog.Logger, repo availability.TemplateRepository, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, facility.Header},
	}))

	e.GET("/health", db.HealthHandler(pool))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	apiV1 := e.Group("/api/v1",
		authMW,
		facility.Middleware(cfg.DefaultFacilityID()),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	)

	svc := availability.NewService(repo, logger, availability.Options{ListFailOpen: cfg.ListFailOpen})
	availability.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: unauthenticated requests are treated as admin")
	}

	ctx := context.Background()
	repo, pool, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("using in-memory store; templates are lost on restart")
	}

	e := newServer(cfg, logger, repo, pool)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
