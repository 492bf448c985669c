package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordImport(t *testing.T) {
	before := testutil.ToFloat64(ImportsTotal.WithLabelValues("acme", "absence", "committed"))
	RecordImport("acme", "absence", "committed")
	after := testutil.ToFloat64(ImportsTotal.WithLabelValues("acme", "absence", "committed"))
	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestRecordWrites(t *testing.T) {
	RecordWrites("emo", 3, 2, 1)
	if v := testutil.ToFloat64(ImportWritesTotal.WithLabelValues("emo", "created")); v < 3 {
		t.Errorf("expected at least 3 created, got %v", v)
	}
	if v := testutil.ToFloat64(ImportWritesTotal.WithLabelValues("emo", "failed")); v < 1 {
		t.Errorf("expected at least 1 failed, got %v", v)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordHTTPRequest("GET", "/api/v1/employees", "200", 0.01)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "occuhealth_http_requests_total") {
		t.Error("expected occuhealth_http_requests_total in output")
	}
}
