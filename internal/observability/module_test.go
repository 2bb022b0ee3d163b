package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

// One Module per test binary: the Prometheus exporter registers its
// collectors with the process-global default registry.
func TestModule_MetricsExposition(t *testing.T) {
	obs, err := New("stream-archiver-test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	metrics.RecordsRead.Add(ctx, 5)
	metrics.RecordsAccepted.Add(ctx, 4)
	metrics.RecordsDropped.Add(ctx, 1)

	rec := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"archiver_records_read", "archiver_records_accepted", "archiver_records_dropped"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition output missing %s", name)
		}
	}

	if err := obs.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
