// Package metrics implements the fire-and-forget, batched UDP metrics sink.
// The published vocabulary is fixed by the Key* constants below; callers
// never invent new keys.
package metrics

import (
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/nexroute/backendify/internal/logger"
)

// Sink is the metrics contract every pipeline layer depends on. All methods
// are best-effort: failures are logged by the concrete implementation and
// never surface to callers.
type Sink interface {
	Increment(key string)
	Gauge(key string, value int64)
	Timing(key string, d time.Duration)
	Set(key string, value string)
	Close() error
}

// Keys published by this gateway. Only these are ever emitted; metric.4 and
// metric.6 are deliberately unused (reserved in the upstream protocol this
// gateway speaks, never assigned here).
const (
	KeyCodeException   = "metric.1"
	KeyJSONError       = "metric.2"
	KeyBreakerLogged   = "metric.3"
	KeyRequestTimedOut = "metric.5"
)

// NewFromEnv selects the real UDP sink when addr is a well-formed
// "host:port" value, else a no-op sink. addr is conventionally sourced from
// the STATSD_SERVER environment variable.
func NewFromEnv(addr string, batchSize int, flushInterval time.Duration, log logger.Logger) Sink {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		log.Setup("no STATSD_SERVER configured, using no-op metrics sink")
		return noop{}
	}

	host, port, ok := splitHostPort(addr)
	if !ok {
		log.Error("STATSD_SERVER must be host:port, using no-op metrics sink", logger.String("addr", addr))
		return noop{}
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}

	client, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address:       host + ":" + port,
		UseBuffered:   true,
		FlushInterval: flushInterval,
		FlushBytes:    batchSize,
	})
	if err != nil {
		log.Error("failed to initialize statsd client, using no-op metrics sink", logger.Error(err))
		return noop{}
	}

	log.Setup("statsd client initialized", logger.String("addr", host+":"+port))
	return &udpSink{client: client, log: log}
}

func splitHostPort(addr string) (host, port string, ok bool) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 || idx == len(addr)-1 {
		return "", "", false
	}
	return addr[:idx], addr[idx+1:], true
}

type udpSink struct {
	client statsd.Statter
	log    logger.Logger
}

func (s *udpSink) Increment(key string) {
	if err := s.client.Inc(key, 1, 1.0); err != nil {
		s.log.Error("statsd increment failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *udpSink) Gauge(key string, value int64) {
	if err := s.client.Gauge(key, value, 1.0); err != nil {
		s.log.Error("statsd gauge failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *udpSink) Timing(key string, d time.Duration) {
	if err := s.client.TimingDuration(key, d, 1.0); err != nil {
		s.log.Error("statsd timing failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *udpSink) Set(key string, value string) {
	if err := s.client.SetInt(key, hashSetValue(value), 1.0); err != nil {
		s.log.Error("statsd set failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *udpSink) Close() error { return s.client.Close() }

// hashSetValue folds an arbitrary string set-member into an int64: the
// underlying client's Set-type metric takes an integer member, while our
// contract (matching the StatsD text protocol's "key:value|s") takes a
// string. Values here are always already-distinct identifiers (URLs,
// country codes), so a stable hash is sufficient for cardinality tracking.
func hashSetValue(v string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(v); i++ {
		h ^= uint64(v[i])
		h *= 1099511628211
	}
	return int64(h)
}

type noop struct{}

func (noop) Increment(string)            {}
func (noop) Gauge(string, int64)         {}
func (noop) Timing(string, time.Duration) {}
func (noop) Set(string, string)          {}
func (noop) Close() error                { return nil }
