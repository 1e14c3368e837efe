// Package main provides the entry point for the social OAuth manager server.
// The server centralizes OAuth2 authorization and token lifecycle for every
// configured social platform and exposes the flow over a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/blush-labs/socialauth/internal/api/handlers"
	"github.com/blush-labs/socialauth/internal/auth"
	"github.com/blush-labs/socialauth/internal/buildinfo"
	"github.com/blush-labs/socialauth/internal/config"
	"github.com/blush-labs/socialauth/internal/logging"
	"github.com/blush-labs/socialauth/internal/registry"
	"github.com/blush-labs/socialauth/internal/store"
	"github.com/blush-labs/socialauth/internal/util"
	"github.com/blush-labs/socialauth/internal/watcher"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("socialauth Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present. The config file may
	// reference them through ${VAR} expansion.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	logging.SetLogLevel(cfg)
	logging.SetRequestLogging(cfg.RequestLog)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}

	if err = run(cfg, configPath); err != nil {
		log.Errorf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, cleanup, err := buildTokenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	defer cleanup()

	states, err := buildStateStore(cfg)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	reg := registry.New(cfg)
	manager := auth.NewManager(reg, states, tokens, &auth.Options{
		HTTPClient: util.NewHTTPClient(cfg.ProxyURL, 30*time.Second),
	})
	defer manager.Close()

	fileWatcher, err := watcher.NewWatcher(configPath, func(newCfg *config.Config) {
		reg.Reload(newCfg)
		logging.SetRequestLogging(newCfg.RequestLog)
		if errLog := logging.ConfigureLogOutput(newCfg); errLog != nil {
			log.Errorf("failed to reconfigure log output: %v", errLog)
		}
	})
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err = fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer func() { _ = fileWatcher.Stop() }()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version})
	})
	handlers.NewHandler(manager, reg).RegisterRoutes(engine)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildTokenStore constructs the configured token persistence backend.
func buildTokenStore(ctx context.Context, cfg *config.Config) (store.TokenStore, func(), error) {
	noop := func() {}
	switch cfg.TokenStore.Backend {
	case "", "file":
		return store.NewFileTokenStore(cfg.AuthDir), noop, nil
	case "memory":
		return store.NewMemoryTokenStore(), noop, nil
	case "postgres":
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		pg, err := store.NewPostgresTokenStore(initCtx, cfg.TokenStore.Postgres.DSN, cfg.TokenStore.Postgres.Table)
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case "object":
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		obj, err := store.NewObjectTokenStore(initCtx, store.ObjectStoreConfig{
			Endpoint:  cfg.TokenStore.Object.Endpoint,
			AccessKey: cfg.TokenStore.Object.AccessKey,
			SecretKey: cfg.TokenStore.Object.SecretKey,
			Bucket:    cfg.TokenStore.Object.Bucket,
			UseSSL:    cfg.TokenStore.Object.UseSSL,
			Prefix:    cfg.TokenStore.Object.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return obj, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown backend %q", cfg.TokenStore.Backend)
	}
}

// buildStateStore constructs the pending-authorization state backend.
func buildStateStore(cfg *config.Config) (auth.StateStore, error) {
	ttl := time.Duration(cfg.StateTTLMinutes) * time.Minute
	switch cfg.StateStore.Backend {
	case "", "memory":
		return auth.NewMemoryStateStore(ttl), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.StateStore.Redis.Addr,
			Password: cfg.StateStore.Redis.Password,
			DB:       cfg.StateStore.Redis.DB,
		})
		return auth.NewRedisStateStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.StateStore.Backend)
	}
}
