package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/chartlock/internal/config"
	"github.com/ehr/chartlock/internal/domain/charting"
	"github.com/ehr/chartlock/internal/platform/auth"
	"github.com/ehr/chartlock/internal/platform/db"
	"github.com/ehr/chartlock/internal/platform/guard"
	"github.com/ehr/chartlock/internal/platform/middleware"
	"github.com/ehr/chartlock/internal/platform/telemetry"
	"github.com/ehr/chartlock/migrations"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chartlock-server",
		Short:         "Nursing records service with NOM-004 edit-window enforcement",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(integrityCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig reads and validates configuration and builds the logger for it.
func loadConfig(out io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg, out)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(parseLevel(cfg.LogLevel)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// -- migrate --

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			migrator, closeFn, err := openMigrator(cmd, dir)
			if err != nil {
				return err
			}
			if migrator == nil {
				return nil
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: built-in migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			migrator, closeFn, err := openMigrator(cmd, dir)
			if err != nil {
				return err
			}
			if migrator == nil {
				return nil
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: built-in migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// openMigrator connects to Postgres for the migrate commands. The SQLite store
// has no migration history, so it returns a nil migrator.
func openMigrator(cmd *cobra.Command, dir string) (*db.Migrator, func(), error) {
	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		fmt.Fprintln(cmd.OutOrStdout(), "The sqlite store applies its schema on open; nothing to migrate.")
		return nil, nil, nil
	}
	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	if dir != "" {
		return db.NewMigrator(pool, dir), pool.Close, nil
	}
	return db.NewMigratorFS(pool, migrations.Files), pool.Close, nil
}

// -- records --

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect regulated records",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the edit window and deletion rule for a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			kindArg, _ := cmd.Flags().GetString("kind")
			idArg, _ := cmd.Flags().GetString("id")

			kind, err := guard.ParseKind(kindArg)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(idArg)
			if err != nil {
				return fmt.Errorf("invalid record id %q", idArg)
			}

			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := newService(cfg, st, logger, telemetry.New())
			status, err := svc.Status(ctx, kind, id)
			if err != nil {
				if rejected, ok := guard.AsRejected(err); ok {
					return errors.New(rejected.Message)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
	statusCmd.Flags().String("kind", "", "Record kind (nurse_note, vital_sign, treatment, non_pharma_treatment, shift_report)")
	statusCmd.Flags().String("id", "", "Record id")
	_ = statusCmd.MarkFlagRequired("kind")
	_ = statusCmd.MarkFlagRequired("id")
	cmd.AddCommand(statusCmd)

	return cmd
}

// -- integrity --

var errIntegrityCheckFailed = errors.New("integrity check failed")

func integrityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Check the store-level deletion safeguards",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm every regulated table refuses physical deletes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := newService(cfg, st, logger, telemetry.New())
			return verifyIntegrity(ctx, st, svc, cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(verifyCmd)

	return cmd
}

// verifyIntegrity checks that each regulated table carries its delete trigger
// and that a probe delete is actually refused. Every failing table is recorded
// as an anomaly.
func verifyIntegrity(ctx context.Context, st *store, svc *charting.Service, out io.Writer) error {
	triggers, err := st.verifyTriggers(ctx)
	if err != nil {
		return err
	}
	probes, err := st.probeDeletes(ctx)
	if err != nil {
		return err
	}

	outcomes := make(map[string]probeOutcome, len(probes))
	for _, p := range probes {
		outcomes[p.Table] = probeOutcome{Refused: p.Refused, Detail: p.Detail}
	}

	fmt.Fprintf(out, "%-28s %-10s %-10s %s\n", "TABLE", "TRIGGER", "DELETE", "RESULT")
	fmt.Fprintln(out, "---------------------------- ---------- ---------- ------")
	failed := 0
	for _, t := range triggers {
		probe := outcomes[t.Table]
		trigger, del, result := "missing", "accepted", "FAIL"
		if t.Protected {
			trigger = "present"
		}
		if probe.Refused {
			del = "refused"
		}
		if t.Protected && probe.Refused {
			result = "OK"
		} else {
			failed++
			if err := svc.RecordAnomaly(ctx, integrityAnomaly(t.Table, t.Protected, probe)); err != nil {
				return fmt.Errorf("record anomaly for %s: %w", t.Table, err)
			}
		}
		fmt.Fprintf(out, "%-28s %-10s %-10s %s\n", t.Table, trigger, del, result)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d table(s) accept physical deletes", errIntegrityCheckFailed, failed)
	}
	fmt.Fprintln(out, "All regulated tables refuse physical deletes.")
	return nil
}

type probeOutcome struct {
	Refused bool
	Detail  string
}

func integrityAnomaly(table string, protected bool, probe probeOutcome) *charting.Anomaly {
	msg := fmt.Sprintf("La tabla %s no rechaza la eliminación física de registros.", table)
	if !protected {
		msg = fmt.Sprintf("La tabla %s no tiene el trigger que impide la eliminación física.", table)
	}
	if probe.Detail != "" {
		msg += " " + probe.Detail
	}
	module := "integrity"
	return &charting.Anomaly{
		ErrorCode:    db.IntegrityMarker,
		ErrorMessage: msg,
		ErrorType:    charting.ErrorTypeIntegrity,
		Severity:     charting.SeverityHigh,
		Module:       &module,
		RecordKind:   &table,
		Status:       charting.AnomalyStatusOpen,
	}
}

// -- serve --

func runServer() error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	metrics := telemetry.New()
	svc := newService(cfg, st, logger, metrics)

	triggers, err := st.verifyTriggers(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to inspect delete triggers")
	}
	if missing := db.Unprotected(triggers); len(missing) > 0 {
		logger.Fatal().Strs("tables", missing).Msg("regulated tables are missing their delete triggers")
	}

	e := newServer(cfg, st, svc, metrics, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", st.driver).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// newServer builds the HTTP server with its middleware chain and routes.
func newServer(cfg *config.Config, st *store, svc *charting.Service, metrics *telemetry.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevActorHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.Secure())

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger, svc))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(st.health))
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.WriteRateLimit(middleware.WriteLimit{
		PerSecond: cfg.WriteRateLimit,
		Burst:     cfg.WriteRateBurst,
	}))
	charting.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}
