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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/adminauth"
	"github.com/hermesrelay/hermes/internal/api"
	"github.com/hermesrelay/hermes/internal/dispatcher"
	"github.com/hermesrelay/hermes/internal/formatter"
	"github.com/hermesrelay/hermes/internal/housekeeping"
	"github.com/hermesrelay/hermes/internal/identity"
	"github.com/hermesrelay/hermes/internal/metrics"
	"github.com/hermesrelay/hermes/internal/store"
	"github.com/hermesrelay/hermes/internal/stream"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr             string
	publicURL            string
	logLevel             string
	dataDir              string
	logMaxBytes          int64
	logBackupCount       int
	adoOrgURL            string
	adoPAT               string
	adoAPIVersion        string
	adoWebhookSecret     string
	adoTLSInsecureSkip   bool
	adminTokenSecret     string
	housekeepingInterval time.Duration
}

func main() {
	// .env is loaded best-effort before flags are parsed, so operators can
	// keep ADO credentials out of their shell history.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "hermes-server",
		Short: "Hermes server — Azure DevOps to desktop notification relay",
		Long: `Hermes server receives Azure DevOps service hook webhooks, formats them
into normalized notifications, and fans them out to registered desktop
clients whose subscriptions and mentions make the event relevant to them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newTokenCmd(cfg))

	defaultAddr := envOrDefault("HOST", "0.0.0.0") + ":" + envOrDefault("PORT", "8080")
	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("HERMES_HTTP_ADDR", defaultAddr), "HTTP listen address (overrides HOST/PORT when set explicitly)")
	root.PersistentFlags().StringVar(&cfg.publicURL, "server-public-url", envOrDefault("SERVER_PUBLIC_URL", "http://localhost:8080"), "Public URL this server is reachable at, for operators registering the ADO webhook")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("HERMES_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("HERMES_DATA_DIR", "./data"), "Directory for the client registry and delivery log")
	root.PersistentFlags().Int64Var(&cfg.logMaxBytes, "log-max-bytes", envOrDefaultInt64("HERMES_LOG_MAX_BYTES", store.DefaultLogMaxBytes), "Delivery log rotation threshold, in bytes")
	root.PersistentFlags().IntVar(&cfg.logBackupCount, "log-backup-count", envOrDefaultInt("HERMES_LOG_BACKUP_COUNT", store.DefaultLogBackupCount), "Number of rotated delivery log backups to retain")
	root.PersistentFlags().StringVar(&cfg.adoOrgURL, "ado-organization-url", envOrDefault("ADO_ORGANIZATION_URL", ""), "Azure DevOps organization/collection base URL")
	root.PersistentFlags().StringVar(&cfg.adoPAT, "ado-pat", envOrDefault("ADO_PAT", ""), "Azure DevOps Personal Access Token for identity lookups")
	root.PersistentFlags().StringVar(&cfg.adoAPIVersion, "ado-api-version", envOrDefault("HERMES_ADO_API_VERSION", identity.DefaultAPIVersion), "Azure DevOps REST API version")
	root.PersistentFlags().StringVar(&cfg.adoWebhookSecret, "ado-webhook-secret", envOrDefault("ADO_WEBHOOK_SECRET", ""), "Shared secret ADO signs webhook payloads with (empty = signature check disabled)")
	root.PersistentFlags().BoolVar(&cfg.adoTLSInsecureSkip, "ado-tls-insecure-skip-verify", envOrDefault("HERMES_ADO_TLS_INSECURE_SKIP_VERIFY", "false") == "true", "Skip TLS certificate verification when calling Azure DevOps (never enable against a public collection)")
	root.PersistentFlags().StringVar(&cfg.adminTokenSecret, "admin-token-secret", envOrDefault("HERMES_ADMIN_TOKEN_SECRET", ""), "Shared secret for signing/validating admin bearer tokens (empty = admin auth disabled, dev only)")
	root.PersistentFlags().DurationVar(&cfg.housekeepingInterval, "housekeeping-interval", envOrDefaultDuration("HERMES_HOUSEKEEPING_INTERVAL", housekeeping.DefaultInterval), "Interval between registry stats ticks")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hermes-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newTokenCmd mints an admin bearer token against the configured
// HERMES_ADMIN_TOKEN_SECRET, for operators who don't want to hand-roll a
// JWT to curl the registry API.
func newTokenCmd(cfg *config) *cobra.Command {
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.adminTokenSecret == "" {
				return fmt.Errorf("HERMES_ADMIN_TOKEN_SECRET (or --admin-token-secret) must be set to mint a token")
			}
			mgr := adminauth.New(cfg.adminTokenSecret, "hermes-server")
			token, err := mgr.Mint(role, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "admin", "Role claim embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting hermes server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("public_url", cfg.publicURL),
		zap.String("log_level", cfg.logLevel),
		zap.String("data_dir", cfg.dataDir),
	)

	if cfg.adminTokenSecret == "" {
		logger.Warn("HERMES_ADMIN_TOKEN_SECRET not set — registry API admin auth is disabled")
	}
	if cfg.adoTLSInsecureSkip {
		logger.Warn("ADO TLS certificate verification is disabled — do not use against a public collection")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Store ---
	st, err := store.New(store.Config{
		DataDir:        cfg.dataDir,
		LogMaxBytes:    cfg.logMaxBytes,
		LogBackupCount: cfg.logBackupCount,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	// --- 2. Identity ---
	idn := identity.New(identity.Config{
		OrganizationURL:    cfg.adoOrgURL,
		PAT:                cfg.adoPAT,
		APIVersion:         cfg.adoAPIVersion,
		InsecureSkipVerify: cfg.adoTLSInsecureSkip,
	}, logger, metrics.CacheObserver{})

	// --- 3. Formatter ---
	fmtr := formatter.New(logger, idn)

	// --- 4. Stream hub ---
	hub := stream.NewHub()
	go hub.Run(ctx.Done())

	// --- 5. Dispatcher ---
	dsp := dispatcher.New(st, idn, stream.DeliveryPublisher{Hub: hub}, logger)

	// --- 6. Housekeeping ---
	hk, err := housekeeping.New(housekeeping.Config{Interval: cfg.housekeepingInterval}, st, logger)
	if err != nil {
		return fmt.Errorf("failed to create housekeeping job: %w", err)
	}
	hk.Start(ctx)
	defer func() {
		if err := hk.Stop(); err != nil {
			logger.Warn("housekeeping shutdown error", zap.Error(err))
		}
	}()

	// --- 7. Admin auth ---
	var adminMgr *adminauth.Manager
	if cfg.adminTokenSecret != "" {
		adminMgr = adminauth.New(cfg.adminTokenSecret, "hermes-server")
	}

	// --- 8. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Store:         st,
		Formatter:     fmtr,
		Dispatcher:    dsp,
		Hub:           hub,
		Logger:        logger,
		WebhookSecret: cfg.adoWebhookSecret,
		AdminAuth:     adminMgr,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down hermes server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("hermes server stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envOrDefaultInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		var parsed int64
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultVal
}
