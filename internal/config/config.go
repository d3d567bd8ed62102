// Package config loads the gateway's configuration from, in increasing
// precedence: built-in defaults, an optional config file, and CLI
// key=value arguments. STATSD_SERVER is read directly from the
// environment. Config loading runs before the real logger exists (the
// logger's own level comes from this config), so it reports problems
// through the standard library logger, matching the pre-logger diagnostic
// style the rest of this codebase uses during bring-up.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexroute/backendify/internal/domain"
)

// Config is immutable once Load returns.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration

	LogLevel  string
	PrettyLog bool

	Targets map[string]domain.BackendTarget // uppercase country ISO -> backend

	ServerSLA              time.Duration
	AverageProcessingTime  time.Duration
	ConnectTimeout         time.Duration
	ReadRequestTimeout     time.Duration
	UpstreamSafetyMargin   time.Duration
	DropSLATimeoutRequests bool

	BreakerCooldown time.Duration

	UseRedis            bool
	RedisHost           string
	RedisPort           int
	RedisDB             int
	RedisUser           string
	RedisPassword       string
	RedisPoolSize       int
	RedisTTLSeconds     int
	RedisDialTimeout    time.Duration
	RedisReadTimeout    time.Duration
	RedisWriteTimeout   time.Duration
	RedisConnectTimeout time.Duration
	RedisRetryInterval  time.Duration
	RedisMaxWait        time.Duration
	RedisPingTimeout    time.Duration
	RedisWarnThreshold  int

	InMemoryCacheTTLSeconds int
	InMemoryCacheMaxSize    int

	MetricsBatchSize    int
	MetricsSendInterval time.Duration
	StatsDServer        string

	MaxResponseQueue  int
	ReadIdleTimeout   time.Duration
	WriteStuckTimeout time.Duration
}

// configFileSearchPaths are tried in order; the first readable file wins.
// Absence of all four is not an error, defaults apply.
var configFileSearchPaths = []string{
	"backendify.config",
	"../backendify.config",
	"/etc/backendify/backendify.config",
	"../../backendify.config",
}

func defaults() *Config {
	return &Config{
		ListenAddr:      ":9000",
		ShutdownTimeout: 5 * time.Second,

		LogLevel:  "error", // CERROR in the config-file vocabulary
		PrettyLog: false,

		Targets: make(map[string]domain.BackendTarget),

		ServerSLA:              time.Second,
		AverageProcessingTime:  1200 * time.Microsecond,
		ConnectTimeout:         25 * time.Millisecond,
		ReadRequestTimeout:     50 * time.Millisecond,
		UpstreamSafetyMargin:   5 * time.Millisecond,
		DropSLATimeoutRequests: false,

		BreakerCooldown: 10 * time.Millisecond,

		UseRedis:            true,
		RedisHost:           "localhost",
		RedisPort:           6379,
		RedisPoolSize:       10,
		RedisTTLSeconds:     24 * 3600,
		RedisDialTimeout:    5 * time.Second,
		RedisReadTimeout:    3 * time.Second,
		RedisWriteTimeout:   3 * time.Second,
		RedisConnectTimeout: 5 * time.Second,
		RedisRetryInterval:  500 * time.Millisecond,
		RedisMaxWait:        5 * time.Second,
		RedisPingTimeout:    2 * time.Second,
		RedisWarnThreshold:  3,

		InMemoryCacheTTLSeconds: 24 * 3600,
		InMemoryCacheMaxSize:    10000,

		MetricsBatchSize:    100,
		MetricsSendInterval: time.Second,

		MaxResponseQueue:  32,
		ReadIdleTimeout:   30 * time.Second,
		WriteStuckTimeout: 5 * time.Second,
	}
}

// Load builds a Config from defaults, the first config file found on
// configFileSearchPaths, and args (conventionally os.Args[1:]), applied in
// that precedence order, plus STATSD_SERVER read straight from the
// environment.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	if path, lines, ok := findConfigFile(); ok {
		log.Printf("config: loading file %s", path)
		for _, line := range lines {
			key, value, ok := parseConfigLine(line)
			if !ok {
				continue
			}
			if err := applyKey(cfg, key, value); err != nil {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
		}
	}

	for _, tok := range args {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("malformed argument %q: expected key=value", tok)
		}
		if isCountryKey(key) {
			target, err := domain.ParseBackendURL(value)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", tok, err)
			}
			cfg.Targets[strings.ToUpper(key)] = target
			continue
		}
		if err := applyKey(cfg, key, value); err != nil {
			return nil, fmt.Errorf("argument %q: %w", tok, err)
		}
	}

	cfg.StatsDServer = os.Getenv("STATSD_SERVER")

	if cfg.LogLevel == "debug" {
		log.Printf("config: %+v", redacted(*cfg))
	}

	return cfg, nil
}

func redacted(cfg Config) Config {
	cfg.RedisPassword = ""
	return cfg
}

// isCountryKey reports whether key is a two-letter ISO country code rather
// than a config field name. Every recognized config field name is at least
// three characters, so length alone disambiguates.
func isCountryKey(key string) bool {
	if len(key) != 2 {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func findConfigFile() (path string, lines []string, ok bool) {
	for _, candidate := range configFileSearchPaths {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		return candidate, strings.Split(string(data), "\n"), true
	}
	return "", nil, false
}

func parseConfigLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// applyKey applies one recognized config-file/CLI key to cfg. The same
// vocabulary is recognized whether key came from the file or from a CLI
// override; CLI values are applied after the file's, so they win.
func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "frontend_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("frontend_port: %w", err)
		}
		cfg.ListenAddr = fmt.Sprintf(":%d", port)
	case "redis_host":
		cfg.RedisHost = value
	case "redis_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("redis_port: %w", err)
		}
		cfg.RedisPort = port
	case "redis_ttl":
		hours, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("redis_ttl: %w", err)
		}
		cfg.RedisTTLSeconds = hours * 3600
	case "use_redis":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("use_redis: %w", err)
		}
		cfg.UseRedis = n != 0
	case "in_memory_cache_ttl":
		hours, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("in_memory_cache_ttl: %w", err)
		}
		cfg.InMemoryCacheTTLSeconds = hours * 3600
	case "in_memory_cache_max_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("in_memory_cache_max_size: %w", err)
		}
		cfg.InMemoryCacheMaxSize = n
	case "log_level":
		cfg.LogLevel = normalizeLogLevel(value)
	case "metrics_batch_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("metrics_batch_size: %w", err)
		}
		cfg.MetricsBatchSize = n
	case "metrics_send_interval":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("metrics_send_interval: %w", err)
		}
		cfg.MetricsSendInterval = time.Duration(ms) * time.Millisecond
	default:
		// Unrecognized keys are ignored rather than fatal, so a newer config
		// file can add keys an older binary doesn't know about yet.
	}
	return nil
}

func normalizeLogLevel(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return "debug"
	case "INFO":
		return "info"
	case "WARNING", "WARN":
		return "warn"
	case "CERROR", "ERROR":
		return "error"
	default:
		return v
	}
}
