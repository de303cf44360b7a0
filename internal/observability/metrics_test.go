package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStoreMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	var okErr error
	m.Observe("register_benchmark", time.Now(), &okErr)
	failErr := errors.New("boom")
	m.Observe("register_benchmark", time.Now(), &failErr)
	m.Observe("register_benchmark", time.Now(), nil)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("register_benchmark", OutcomeOK)); got != 2 {
		t.Errorf("ok operations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("register_benchmark", OutcomeError)); got != 1 {
		t.Errorf("error operations = %v, want 1", got)
	}
}

func TestStoreMetrics_Counters(t *testing.T) {
	m := NewStoreMetrics(nil)
	m.DuplicatePlan()
	m.DuplicatePlan()
	m.FingerprintMismatch()
	m.Measurement()

	if got := testutil.ToFloat64(m.duplicatePlans); got != 2 {
		t.Errorf("duplicate plans = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fingerprintMismatches); got != 1 {
		t.Errorf("fingerprint mismatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.measurements); got != 1 {
		t.Errorf("measurements = %v, want 1", got)
	}
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	h := m.Middleware("best", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/best-alternatives", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("best", "418")); got != 1 {
		t.Errorf("requests{best,418} = %v, want 1", got)
	}
}
