package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/auth"
	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/gateway"
	"github.com/suuupra/gateway/internal/kv"
	"github.com/suuupra/gateway/internal/logging"
	"github.com/suuupra/gateway/internal/ratelimit"
	"github.com/suuupra/gateway/internal/schemaevolution"
	"github.com/suuupra/gateway/internal/tenant"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.json", "Path to configuration file")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the shared store (empty = in-memory)")
	identityURL := flag.String("identity-url", os.Getenv("IDENTITY_SERVICE_URL"), "Identity service base URL")
	historyDir := flag.String("history-dir", "configs/history", "Directory for accepted configuration revisions (empty = disabled)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Gateway Control Plane %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, result, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !result.Valid {
		fmt.Fprintln(os.Stderr, "Configuration is invalid:")
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", e.Path, e.Message)
		}
		os.Exit(1)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Server.Logging.Level, cfg.Server.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting gateway control plane",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("configVersion", cfg.Version),
		zap.Int("routes", len(cfg.Routes)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store kv.Store
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logging.Error("Redis unreachable", zap.String("addr", *redisAddr), zap.Error(err))
			os.Exit(1)
		}
		store = kv.NewRedisStore(client, "gateway")
		logging.Info("Using Redis store", zap.String("addr", *redisAddr))
	} else {
		store = kv.NewMemoryStore()
		logging.Warn("Using in-memory store; rate limits and API keys are not shared across instances")
	}

	var identityClient *auth.IdentityClient
	if *identityURL != "" {
		identityClient = auth.NewIdentityClient(*identityURL, 5*time.Second)
	}

	keys := auth.NewKeySetProvider(ctx)
	keyMgr := auth.NewKeyManager(store)
	enforcer := auth.NewEnforcer(keys, keyMgr, identityClient, logger)
	limiter := ratelimit.NewLimiter(store, logger)

	tenants := tenant.NewManager(tenant.Options{
		Enabled:       cfg.Features["tenantIsolation"],
		DefaultConfig: cfg,
		Logger:        logger,
	})

	gw := gateway.New(tenants, enforcer, limiter, logger)

	if !cfg.Admin.Enabled {
		logging.Info("Admin API disabled; running policy plane only")
		<-ctx.Done()
		return
	}

	var revisions *schemaevolution.ConfigStore
	if *historyDir != "" {
		revisions, err = schemaevolution.NewConfigStore(*historyDir, 10)
		if err != nil {
			logging.Warn("Config revision store unavailable", zap.String("dir", *historyDir), zap.Error(err))
		}
	}

	migrator := schemaevolution.NewMigrator(logger)
	admin := gateway.NewAdminServer(migrator, keyMgr, revisions, gw, logger)

	srv := &http.Server{
		Addr:         cfg.Admin.Address,
		Handler:      admin.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logging.Info("Admin API listening", zap.String("addr", cfg.Admin.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Admin server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Admin server shutdown error", zap.Error(err))
	}
}
