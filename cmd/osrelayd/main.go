package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/g960059/osrelay/internal/auth"
	"github.com/g960059/osrelay/internal/cache"
	"github.com/g960059/osrelay/internal/clock"
	"github.com/g960059/osrelay/internal/config"
	"github.com/g960059/osrelay/internal/daemon"
	"github.com/g960059/osrelay/internal/db"
	"github.com/g960059/osrelay/internal/logging"
	"github.com/g960059/osrelay/internal/metrics"
	"github.com/g960059/osrelay/internal/presence"
	"github.com/g960059/osrelay/internal/relay"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fatal(err)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = log.With(logger, "svc", "osrelayd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	identity, err := auth.NewIdentity(cfg.JWTSecret, clock.Real())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry := relay.NewRegistry()
	m := metrics.New(reg, metrics.Gauges{Instances: registry.InstanceCount, Subscribers: registry.BrowserCount})

	persister := relay.NewPersister(store, relay.PersisterOptions{
		Timeout: cfg.PersistTimeout,
		Logger:  logger,
		Metrics: m,
	})
	engine := relay.NewEngine(relay.Options{
		Registry:       registry,
		LogHistorySize: cfg.LogHistorySize,
		Sink:           persister,
		Logger:         logger,
		Metrics:        m,
	})

	instances := apiKeyResolver(ctx, cfg, store, logger)

	var wg sync.WaitGroup
	persistCtx, stopPersist := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		persister.Run(persistCtx)
	}()

	srv := daemon.NewServer(cfg, daemon.Deps{
		Store:     store,
		Instances: instances,
		Identity:  identity,
		Engine:    engine,
		Presence:  presence.NewTracker(clock.Real(), cfg.PresenceTTL),
		Pending:   persister.Pending,
		Metrics:   m,
		Gatherer:  reg,
		Logger:    logger,
	})
	serveErr := srv.Start(ctx)

	// The HTTP server is down, so no session can enqueue more writes.
	stopPersist()
	wg.Wait()
	level.Info(logger).Log("msg", "relay stopped")

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func loadConfig(args []string) (config.Config, error) {
	var (
		configPath string
		listen     string
		dbPath     string
		logLevel   string
		redisAddr  string
	)
	flags := pflag.NewFlagSet("osrelayd", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flags.StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	flags.StringVar(&dbPath, "db", "", "SQLite path (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flags.StringVar(&redisAddr, "redis", "", "redis URL for the API key cache (overrides config)")
	if err := flags.Parse(args); err != nil {
		return config.Config{}, err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return config.Config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return config.Config{}, err
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = listen
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("redis") {
		cfg.RedisAddr = redisAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// apiKeyResolver puts the redis cache in front of the store when redis is
// configured and reachable.
func apiKeyResolver(ctx context.Context, cfg config.Config, store *db.Store, logger log.Logger) daemon.InstanceResolver {
	if cfg.RedisAddr == "" {
		return store
	}
	client, err := cache.NewRedisUniversalClient(cfg.RedisAddr)
	if err != nil {
		level.Warn(logger).Log("msg", "redis disabled", "err", err)
		return store
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		level.Warn(logger).Log("msg", "redis unreachable, api key cache disabled", "err", err)
		_ = client.Close()
		return store
	}
	level.Info(logger).Log("msg", "api key cache enabled", "ttl", cfg.APIKeyCacheTTL)
	return cache.NewRedisAPIKeyLookup(store, client, cfg.APIKeyCacheTTL, logger)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "osrelayd: %v\n", err)
	os.Exit(1)
}
