package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nexroute/backendify/internal/breaker"
	gcache "github.com/nexroute/backendify/internal/cache"
	"github.com/nexroute/backendify/internal/domain"
	"github.com/nexroute/backendify/internal/logger"
	"github.com/nexroute/backendify/internal/metrics"
	"github.com/nexroute/backendify/internal/upstream"
)

func testPipeline(t *testing.T, srv *httptest.Server) *Pipeline {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	target := domain.BackendTarget{URL: srv.URL, Host: u.Hostname(), Port: port}

	cfg := Config{
		Targets:               map[string]domain.BackendTarget{"US": target, "DE": target},
		ServerSLA:             time.Second,
		AverageProcessingTime: time.Millisecond,
		ConnectTimeout:        50 * time.Millisecond,
		ReadTimeout:           50 * time.Millisecond,
		SafetyMargin:          50 * time.Millisecond,
		BreakerCooldown:       10 * time.Millisecond,
		CacheTTLSeconds:       86400,
	}

	return New(cfg, gcache.NewMemory(time.Hour, 1000), breaker.New(), upstream.New(), metrics.NewFromEnv("", 0, 0, logger.New("error", false)), logger.New("error", false))
}

func query(id, country string) url.Values {
	v := url.Values{}
	if id != "" {
		v.Set("id", id)
	}
	if country != "" {
		v.Set("country_iso", country)
	}
	return v
}

func TestHandleCompanyMissingParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("", "US"))
	if resp.StatusCode != 400 {
		t.Fatalf("StatusCode = %d, want 400", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"Missing required parameters"}` {
		t.Fatalf("Body = %s", resp.Body)
	}
}

func TestHandleCompanyV2Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", domain.ContentTypeV2)
		_, _ = w.Write([]byte(`{"company_name":"FakeCo V2"}`))
	}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("123", "US"))
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	var got domain.NormalizedResponse
	if err := json.Unmarshal(resp.Body, &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	want := domain.NormalizedResponse{ID: "123", Name: "FakeCo V2", Active: true}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestHandleCompanyV1ClosedInPast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", domain.ContentTypeV1)
		_, _ = w.Write([]byte(`{"cn":"FakeCo V1","closed_on":"2024-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("456", "DE"))
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	var got domain.NormalizedResponse
	if err := json.Unmarshal(resp.Body, &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	want := domain.NormalizedResponse{ID: "456", Name: "FakeCo V1", Active: false, ActiveUntil: "2024-01-01T00:00:00Z"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestHandleCompanyUpstreamNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("notfound", "US"))
	if resp.StatusCode != 404 {
		t.Fatalf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"Not Found"}` {
		t.Fatalf("Body = %s", resp.Body)
	}
}

func TestHandleCompanyUnconfiguredCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("x", "XX"))
	if resp.StatusCode != 404 {
		t.Fatalf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"Unconfigured country_iso"}` {
		t.Fatalf("Body = %s", resp.Body)
	}
}

func TestHandleCompanyCacheHitServesRawBytesWithoutUpstreamContact(t *testing.T) {
	contacted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contacted = true
	}))
	defer srv.Close()
	p := testPipeline(t, srv)

	p.cache.Set(context.Background(), "123:US", []byte(`{"id":"123","name":"CachedCo"}`), 0)

	resp := p.HandleCompany(context.Background(), time.Now(), query("123", "US"))
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"id":"123","name":"CachedCo"}` {
		t.Fatalf("Body = %s", resp.Body)
	}
	if contacted {
		t.Fatalf("expected upstream not to be contacted on cache hit")
	}
}

func TestHandleCompanyBreakerTrippedSkipsUpstream(t *testing.T) {
	contacted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contacted = true
	}))
	defer srv.Close()
	p := testPipeline(t, srv)
	p.breaker.Trip(srv.URL, time.Hour)

	resp := p.HandleCompany(context.Background(), time.Now(), query("x", "US"))
	if resp.StatusCode != 504 {
		t.Fatalf("StatusCode = %d, want 504", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":"Gateway Timeout"}` {
		t.Fatalf("Body = %s", resp.Body)
	}
	if contacted {
		t.Fatalf("expected upstream not to be contacted while breaker tripped")
	}
}

func TestHandleCompanyUpstream5xxTripsBreakerAndReturnsBadGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	p := testPipeline(t, srv)

	resp := p.HandleCompany(context.Background(), time.Now(), query("x", "US"))
	if resp.StatusCode != 502 {
		t.Fatalf("StatusCode = %d, want 502", resp.StatusCode)
	}
	if !p.breaker.Tripped(srv.URL) {
		t.Fatalf("expected breaker to be tripped after upstream 5xx")
	}
}

func TestHandleCompanySLAExceededRespondsGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p := testPipeline(t, srv)
	p.cfg.ServerSLA = time.Millisecond
	p.cfg.AverageProcessingTime = 0
	p.cfg.DropSLATimeoutRequests = false

	resp := p.HandleCompany(context.Background(), time.Now().Add(-time.Second), query("x", "US"))
	if resp.StatusCode != 504 {
		t.Fatalf("StatusCode = %d, want 504", resp.StatusCode)
	}
}

func TestHandleCompanySLAExceededDropsWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p := testPipeline(t, srv)
	p.cfg.ServerSLA = time.Millisecond
	p.cfg.AverageProcessingTime = 0
	p.cfg.DropSLATimeoutRequests = true

	resp := p.HandleCompany(context.Background(), time.Now().Add(-time.Second), query("x", "US"))
	if !resp.Drop {
		t.Fatalf("expected dropped response when drop_sla_timeout_requests is set")
	}
}
