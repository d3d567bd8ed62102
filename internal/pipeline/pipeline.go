// Package pipeline implements the request-processing state machine:
// inbound validation, SLA admission control, cache lookup, upstream
// dispatch, response normalization, and cache insertion.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nexroute/backendify/internal/breaker"
	"github.com/nexroute/backendify/internal/cache"
	"github.com/nexroute/backendify/internal/domain"
	"github.com/nexroute/backendify/internal/logger"
	"github.com/nexroute/backendify/internal/metrics"
	"github.com/nexroute/backendify/internal/upstream"
)

// Config bundles every tunable the pipeline needs; all fields are set once
// at startup from internal/config and never mutated afterward.
type Config struct {
	Targets map[string]domain.BackendTarget // uppercase country ISO -> target

	ServerSLA              time.Duration
	AverageProcessingTime  time.Duration
	DropSLATimeoutRequests bool

	BreakerCooldown time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SafetyMargin   time.Duration

	CacheTTLSeconds int
}

// Pipeline ties the cache, breaker, upstream client, and metrics sink
// together behind the two request handlers the HTTP server calls into.
type Pipeline struct {
	cfg      Config
	cache    cache.Cache
	breaker  *breaker.Breaker
	upstream *upstream.Client
	metrics  metrics.Sink
	log      logger.Logger
}

// New builds a Pipeline from its collaborators. None of the arguments may
// be nil.
func New(cfg Config, c cache.Cache, b *breaker.Breaker, u *upstream.Client, m metrics.Sink, log logger.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, cache: c, breaker: b, upstream: u, metrics: m, log: log}
}

// Response is what a handler hands back to the HTTP server for emission.
// Drop=true means "emit nothing"; the server keeps the connection open.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Drop        bool
}

const contentTypeJSON = "application/json"

// HandleStatus answers the liveness probe.
func (p *Pipeline) HandleStatus() *Response {
	return &Response{StatusCode: 200, ContentType: "text/plain", Body: []byte("Frontend Server is running")}
}

// HandleCompany runs the full state machine for GET /company. receivedAt is
// the monotonic time the inbound request finished being read, used for the
// SLA admission check.
func (p *Pipeline) HandleCompany(ctx context.Context, receivedAt time.Time, query url.Values) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.Increment(metrics.KeyCodeException)
			p.log.Error("internal error handling /company", logger.String("panic", fmt.Sprint(r)))
			resp = jsonError(500, "Internal Error")
		}
	}()

	id := strings.TrimSpace(query.Get("id"))
	countryISO := strings.ToUpper(strings.TrimSpace(query.Get("country_iso")))
	if id == "" || countryISO == "" {
		return jsonError(400, "Missing required parameters")
	}

	cacheKey := id + ":" + countryISO

	if cached, ok := p.cache.Get(ctx, cacheKey); ok {
		return &Response{StatusCode: 200, ContentType: contentTypeJSON, Body: cached}
	}

	elapsed := time.Since(receivedAt)
	if budget := p.cfg.ServerSLA - p.cfg.AverageProcessingTime; elapsed > budget {
		p.metrics.Increment(metrics.KeyRequestTimedOut)
		if p.cfg.DropSLATimeoutRequests {
			return &Response{Drop: true}
		}
		return jsonError(504, "Gateway Timeout")
	}

	target, ok := p.cfg.Targets[countryISO]
	if !ok {
		return jsonError(404, "Unconfigured country_iso")
	}

	if p.breaker.Tripped(target.URL) {
		return jsonError(504, "Gateway Timeout")
	}

	deadline := p.cfg.ConnectTimeout + p.cfg.ReadTimeout + p.cfg.SafetyMargin
	result, err := p.upstream.Call(ctx, target, id, deadline)
	if err != nil {
		p.breaker.Trip(target.URL, p.cfg.BreakerCooldown)
		p.metrics.Increment(metrics.KeyBreakerLogged)
		return jsonError(504, "Gateway Timeout")
	}

	return p.dispatchResult(ctx, target, cacheKey, id, result)
}

func (p *Pipeline) dispatchResult(ctx context.Context, target domain.BackendTarget, cacheKey, id string, result *upstream.Result) *Response {
	switch {
	case result.StatusCode == 200:
		rec := domain.ParseUpstreamBody(id, result.ContentType, result.Body)
		if !rec.ParseOK {
			p.metrics.Increment(metrics.KeyJSONError)
			return jsonError(502, "Bad Gateway")
		}

		normalized, err := domain.Normalize(rec, time.Now())
		if err != nil {
			p.metrics.Increment(metrics.KeyJSONError)
			return jsonError(502, "Bad Gateway")
		}

		body, err := domain.MarshalIndented(normalized)
		if err != nil {
			p.metrics.Increment(metrics.KeyJSONError)
			return jsonError(502, "Bad Gateway")
		}

		p.cache.Set(ctx, cacheKey, body, p.cfg.CacheTTLSeconds)
		return &Response{StatusCode: 200, ContentType: contentTypeJSON, Body: body}

	case result.StatusCode == 404:
		return jsonError(404, "Not Found")

	case result.StatusCode >= 500 && result.StatusCode < 600:
		p.breaker.Trip(target.URL, p.cfg.BreakerCooldown)
		p.metrics.Increment(metrics.KeyBreakerLogged)
		return jsonError(502, "Bad Gateway")

	default:
		return jsonError(502, "Bad Gateway")
	}
}

func jsonError(status int, message string) *Response {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	return &Response{StatusCode: status, ContentType: contentTypeJSON, Body: body}
}
