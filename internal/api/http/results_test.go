package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autosteer/autosteer/internal/observability"
	"github.com/autosteer/autosteer/internal/results"
)

const testQuery = "benchmark/queries/tpch/q1.sql"

func newTestServer(t *testing.T) (*httptest.Server, *results.Store) {
	t.Helper()
	ctx := context.Background()

	store, err := results.Open(ctx, results.Options{Path: filepath.Join(t.TempDir(), "postgres.sqlite"), Seed: 7})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	id, err := store.RegisterBenchmark(ctx, "tpch")
	if err != nil {
		t.Fatalf("failed to register benchmark: %v", err)
	}
	if err := store.RegisterQuery(ctx, id, testQuery); err != nil {
		t.Fatalf("failed to register query: %v", err)
	}
	store.RegisterOptimizerUsage(ctx, testQuery, "ColumnPruning", true)
	store.RegisterOptimizerUsage(ctx, testQuery, "PushDownPredicates", false)
	store.RegisterQueryFingerprint(ctx, testQuery, "fp-1")

	configs := []struct {
		rules     string
		plan      string
		walltimes []float64
	}{
		{"", `{"Plan":{"Node Type":"Seq Scan"}}`, []float64{10, 10, 10, 1000}},
		{"PushDownPredicates", `{"Plan":{"Node Type":"Index Scan"}}`, []float64{4, 6}},
	}
	for _, c := range configs {
		plan := json.RawMessage(c.plan)
		if _, err := store.RegisterQueryConfig(ctx, testQuery, c.rules, plan, results.PlanHash(plan)); err != nil {
			t.Fatalf("failed to register config: %v", err)
		}
		for _, w := range c.walltimes {
			if err := store.RegisterMeasurement(ctx, testQuery, c.rules, w, 0, 1); err != nil {
				t.Fatalf("failed to register measurement: %v", err)
			}
		}
	}

	reg := prometheus.NewRegistry()
	handler := NewHandler(store, Options{
		Gatherer: reg,
		Metrics:  observability.NewHTTPMetrics(reg),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string, wantStatus int, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func TestMedianRuntimesHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	var medians []results.MedianRuntime
	resp := getJSON(t, srv.URL+"/v1/median-runtimes", http.StatusOK, &medians)
	if len(medians) != 2 {
		t.Fatalf("expected 2 medians, got %d", len(medians))
	}
	if medians[0].MedianRuntime != 10 || medians[1].MedianRuntime != 5 {
		t.Errorf("unexpected medians %+v", medians)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestBestAlternativesHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	var alts []results.AlternativeConfiguration
	getJSON(t, srv.URL+"/v1/best-alternatives?benchmark=tpch", http.StatusOK, &alts)
	if len(alts) != 1 {
		t.Fatalf("expected 1 alternative, got %d", len(alts))
	}
	if alts[0].Savings != 5 || alts[0].Rank != 1 || alts[0].DisabledRules != "PushDownPredicates" {
		t.Errorf("unexpected alternative %+v", alts[0])
	}

	var none []results.AlternativeConfiguration
	getJSON(t, srv.URL+"/v1/best-alternatives?benchmark=job", http.StatusOK, &none)
	if len(none) != 0 {
		t.Errorf("expected empty list, got %+v", none)
	}
}

func TestExperienceHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	var split results.ExperienceSplit
	getJSON(t, srv.URL+"/v1/experience?ratio=1", http.StatusOK, &split)
	if len(split.Train) != 2 || len(split.Test) != 0 {
		t.Errorf("unexpected split sizes %d/%d", len(split.Train), len(split.Test))
	}

	var errResp ErrorResponse
	getJSON(t, srv.URL+"/v1/experience?ratio=2", http.StatusBadRequest, &errResp)
	if errResp.Code != "INVALID_RATIO" {
		t.Errorf("unexpected error code %q", errResp.Code)
	}
	getJSON(t, srv.URL+"/v1/experience?ratio=abc", http.StatusBadRequest, nil)
}

func TestOptimizersHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	var resp OptimizersResponse
	getJSON(t, srv.URL+"/v1/optimizers?path="+testQuery, http.StatusOK, &resp)
	if resp.Fingerprint != "fp-1" {
		t.Errorf("unexpected fingerprint %q", resp.Fingerprint)
	}
	if len(resp.Required) != 1 || resp.Required[0] != "ColumnPruning" {
		t.Errorf("unexpected required optimizers %v", resp.Required)
	}
	if len(resp.Effective) != 1 || resp.Effective[0] != "PushDownPredicates" {
		t.Errorf("unexpected effective optimizers %v", resp.Effective)
	}

	var errResp ErrorResponse
	getJSON(t, srv.URL+"/v1/optimizers?path=missing.sql", http.StatusNotFound, &errResp)
	if errResp.Code != "UNKNOWN_QUERY" || errResp.RequestID == "" {
		t.Errorf("unexpected error response %+v", errResp)
	}
	getJSON(t, srv.URL+"/v1/optimizers", http.StatusBadRequest, nil)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	getJSON(t, srv.URL+"/health", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("unexpected health %v", health)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	if !strings.Contains(string(body), `autosteer_http_requests_total{code="200",route="health"} 1`) {
		t.Errorf("expected health request counter in metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/median-runtimes", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := DefaultMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/median-runtimes", nil)
	req.Header.Set("X-Request-ID", "req-1")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", resp.RequestID)
	}
	if rec.Header().Get("X-Correlation-ID") != "req-1" {
		t.Errorf("expected correlation id to fall back to the request id, got %q", rec.Header().Get("X-Correlation-ID"))
	}
}
