package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hawker-score/internal/api"
	"hawker-score/internal/auth"
	"hawker-score/internal/cache"
	"hawker-score/internal/config"
	"hawker-score/internal/db"
	"hawker-score/internal/ingest"
	"hawker-score/internal/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = *dbPath
	}

	zl, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Static files directory, relative to the working directory in development
	staticDir := cfg.Server.StaticDir
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		if execPath, err := os.Executable(); err == nil {
			staticDir = filepath.Join(filepath.Dir(filepath.Dir(execPath)), cfg.Server.StaticDir)
		}
	}

	zl.Info("Starting",
		zap.String("env", cfg.AppEnv),
		zap.String("driver", cfg.Database.Driver),
		zap.String("static_dir", staticDir))

	// Initialize database
	database, err := db.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	// Response cache: redis when configured, otherwise in process
	var store cache.Cache = cache.NewMemory()
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, "hawker")
		if err != nil {
			return err
		}
		store = rc
		zl.Info("Using redis cache", zap.String("addr", cfg.Cache.RedisAddr))
	}
	defer store.Close()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// Tokens do not survive a restart without a configured secret
		secret = randomSecret()
		zl.Warn("auth.jwt_secret not set, using a random secret for this process")
	}
	issuer, err := auth.NewIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	fetcher, release, err := ingest.NewFetcher(ingest.FetcherOptions{
		UseBrowser: cfg.Ingest.UseBrowser,
		Headless:   cfg.Ingest.Headless,
		Timeout:    cfg.Ingest.Timeout,
		Logger:     zl,
	})
	if err != nil {
		return err
	}
	defer release()

	ingestCfg := ingest.DefaultConfig()
	ingestCfg.SubzonesURL = cfg.Ingest.SubzonesURL
	ingestCfg.PopulationURL = cfg.Ingest.PopulationURL
	ingestCfg.ScoresURL = cfg.Ingest.ScoresURL

	h := api.NewHandlers(api.Deps{
		DB:        database,
		Cache:     cache.NewLoader(store, cfg.Cache.TTL, zl),
		Refresher: ingest.New(database, fetcher, ingestCfg, zl),
		Auth:      auth.NewService(database, issuer),
		Issuer:    issuer,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit.RefreshPerMinute/60), cfg.RateLimit.RefreshBurst),
		Logger:    zl,
	})

	// Create router
	router := api.NewRouter(h, api.RouterOptions{
		StaticDir:      staticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MapToken:       cfg.Map.Token,
		ProviderStyle:  cfg.Map.ProviderStyle,
		OpenStyle:      cfg.Map.OpenStyle,
		Logger:         zl,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("Listening", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		zl.Info("Received interrupt signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// randomSecret joins two v4 uuids, which are drawn from crypto/rand
func randomSecret() string {
	return uuid.NewString() + uuid.NewString()
}
