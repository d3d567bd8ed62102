// Package app wires every collaborator built from internal/config into a
// runnable process: cache backend selection, breaker, upstream client,
// metrics sink, the request pipeline, and the pipelined HTTP server, with
// graceful shutdown on SIGINT/SIGTERM.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nexroute/backendify/internal/breaker"
	"github.com/nexroute/backendify/internal/cache"
	"github.com/nexroute/backendify/internal/config"
	"github.com/nexroute/backendify/internal/httpserver"
	"github.com/nexroute/backendify/internal/logger"
	"github.com/nexroute/backendify/internal/metrics"
	"github.com/nexroute/backendify/internal/pipeline"
	redisconn "github.com/nexroute/backendify/internal/redis"
	"github.com/nexroute/backendify/internal/upstream"
	"github.com/nexroute/backendify/internal/utils"
	"github.com/nexroute/backendify/internal/version"
)

// App owns every long-lived collaborator and the order they must shut down
// in.
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	upstream    *upstream.Client
	metrics     metrics.Sink
	redisClient *goredis.Client
}

// New loads configuration and constructs every collaborator. It never
// starts accepting connections; call Run for that.
func New() *App {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	log.Setup("starting backendify",
		logger.String("version", version.Version),
		logger.String("listen_addr", cfg.ListenAddr),
		logger.Int("targets", len(cfg.Targets)))

	cacheImpl, redisClient := buildCache(cfg, log)

	metricsSink := metrics.NewFromEnv(cfg.StatsDServer, cfg.MetricsBatchSize, cfg.MetricsSendInterval, log)
	breakerImpl := breaker.New()
	upstreamClient := upstream.New()

	p := pipeline.New(pipeline.Config{
		Targets:                cfg.Targets,
		ServerSLA:              cfg.ServerSLA,
		AverageProcessingTime:  cfg.AverageProcessingTime,
		DropSLATimeoutRequests: cfg.DropSLATimeoutRequests,
		BreakerCooldown:        cfg.BreakerCooldown,
		ConnectTimeout:         cfg.ConnectTimeout,
		ReadTimeout:            cfg.ReadRequestTimeout,
		SafetyMargin:           cfg.UpstreamSafetyMargin,
		CacheTTLSeconds:        cfg.InMemoryCacheTTLSeconds,
	}, cacheImpl, breakerImpl, upstreamClient, metricsSink, log)

	server := httpserver.New(httpserver.Options{
		Addr:              cfg.ListenAddr,
		MaxResponseQueue:  cfg.MaxResponseQueue,
		ReadIdleTimeout:   cfg.ReadIdleTimeout,
		WriteStuckTimeout: cfg.WriteStuckTimeout,
	}, p, log)

	return &App{
		cfg:         cfg,
		logger:      log,
		server:      server,
		upstream:    upstreamClient,
		metrics:     metricsSink,
		redisClient: redisClient,
	}
}

// buildCache prefers Redis when cfg.UseRedis is set, falling back to the
// bounded in-memory cache if Redis cannot be reached at startup. The
// fallback is deliberate: a gateway should still serve traffic, backed by a
// smaller and colder cache, rather than refuse to start because its remote
// cache is briefly unavailable.
func buildCache(cfg *config.Config, log logger.Logger) (cache.Cache, *goredis.Client) {
	if !cfg.UseRedis {
		log.Setup("redis disabled by config, using in-memory cache")
		return cache.NewMemory(secondsToDuration(cfg.InMemoryCacheTTLSeconds), cfg.InMemoryCacheMaxSize), nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	client, err := redisconn.New(redisconn.ConnectOptions{
		Addr:           addr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDialTimeout,
		ReadTimeout:    cfg.RedisReadTimeout,
		WriteTimeout:   cfg.RedisWriteTimeout,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		log.Error("redis unavailable at startup, falling back to in-memory cache", logger.Error(err))
		return cache.NewMemory(secondsToDuration(cfg.InMemoryCacheTTLSeconds), cfg.InMemoryCacheMaxSize), nil
	}

	log.Setup("using redis cache", logger.String("addr", addr))
	return cache.NewRedis(client, log), client
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// Run starts accepting connections and blocks until SIGINT/SIGTERM or the
// server fails to bind, then shuts every collaborator down in reverse
// dependency order.
func (a *App) Run() error {
	a.logger.Infof("backendify %s (commit=%s, built=%s, go=%s) listening on %s",
		version.Version, version.Commit, version.BuildDate, version.GoVersion, a.cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.server.Start(); err != nil {
		return fmt.Errorf("http server error: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.upstream.Shutdown()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("server did not stop cleanly", logger.Error(err))
	}

	if a.redisClient != nil {
		utils.MustClose(a.redisClient)
	}

	if err := a.metrics.Close(); err != nil {
		a.logger.Warn("failed to close metrics sink", logger.Error(err))
	}

	_ = a.logger.Sync()
	a.logger.Info("backendify stopped cleanly")
	return nil
}
