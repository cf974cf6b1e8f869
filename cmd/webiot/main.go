// WebIoT Relay
//
// This is the main entry point for the relay. It keeps one connection to an
// MQTT broker, retains recent telemetry in memory, and lets signed-in web
// users read that telemetry and publish commands over HTTP.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webiot/relay/internal/api"
	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/auth"
	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/database"
	"github.com/webiot/relay/internal/infrastructure/logging"
	"github.com/webiot/relay/internal/infrastructure/metrics"
	"github.com/webiot/relay/internal/infrastructure/mqtt"
	"github.com/webiot/relay/internal/relay"
	"github.com/webiot/relay/internal/site"
	"github.com/webiot/relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// generatedSecretBytes is the size of the session secret made when none is configured.
const generatedSecretBytes = 32

// startupHealthTimeout bounds the post-startup dependency checks.
const startupHealthTimeout = 5 * time.Second

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting WebIoT Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Account database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	secret, err := sessionSecret(cfg.Security)
	if err != nil {
		return err
	}
	if cfg.Security.SessionSecret == "" {
		log.Warn("no session secret configured, generated one; sessions will not survive a restart")
	}
	sessions := auth.NewSessions(secret, time.Duration(cfg.Security.SessionTTL)*time.Minute)
	accounts := auth.NewStore(db.DB, auth.DefaultHasher())

	m := metrics.New()

	// Broker transport and relay
	transport, err := mqtt.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	transport.SetLogger(log.With("component", "mqtt"))

	rl := relay.New(relay.ConfigFrom(cfg), transport)
	rl.SetLogger(log.With("component", "relay"))
	rl.SetRecorder(m)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Relay:    rl,
		Accounts: accounts,
		Sessions: sessions,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Metrics:  m,
		Database: db,
		Site:     site.Handler(cfg.Site.Dir),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if _, embedded := site.FileSystem(cfg.Site.Dir); embedded {
		log.Warn("site directory not found, serving built-in page", "dir", cfg.Site.Dir)
	}

	// The relay connects in the background; the HTTP surface comes up
	// regardless of broker availability.
	if err := rl.Start(ctx); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		_ = rl.Close()
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, db, server); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping API server")
		return server.Close()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("disconnecting from MQTT")
		return rl.Close()
	})

	if err := g.Wait(); err != nil {
		log.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("WebIoT Relay stopped")
	return nil
}

// getConfigPath returns the config file path from the environment or the default.
func getConfigPath() string {
	if path := os.Getenv("WEBIOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// sessionSecret returns the configured secret, or a random one when unset.
func sessionSecret(cfg config.SecurityConfig) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	secret := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	return secret, nil
}

// healthChecker is satisfied by every component checked at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies local dependencies. The broker is not required: the
// relay serves reads and reports not connected until it comes up.
func healthCheck(ctx context.Context, db, server healthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := server.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	return errors.Join(errs...)
}
