package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResolverMetrics_FetchCompleted(t *testing.T) {
	m := NewResolverMetrics(NewRegistry())

	m.FetchCompleted("vault", "loaded", 20*time.Millisecond)
	m.FetchCompleted("vault", "loaded", 30*time.Millisecond)
	m.FetchCompleted("vault", "skipped", 0)

	if got := testutil.ToFloat64(m.fetchTotal.WithLabelValues("vault", "loaded")); got != 2 {
		t.Fatalf("expected 2 loaded fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.fetchTotal.WithLabelValues("vault", "skipped")); got != 1 {
		t.Fatalf("expected 1 skipped fetch, got %v", got)
	}
	if got := testutil.CollectAndCount(m.fetchDuration); got != 1 {
		t.Fatalf("zero durations should not be observed, got %d series", got)
	}
}

func TestResolverMetrics_PropertiesOnlyMoveOnSuccess(t *testing.T) {
	m := NewResolverMetrics(NewRegistry())

	m.ResolutionCompleted("resolve", "success", 12, time.Second)
	m.ResolutionCompleted("refresh", "failure", 0, time.Second)

	if got := testutil.ToFloat64(m.properties); got != 12 {
		t.Fatalf("expected properties gauge 12, got %v", got)
	}
	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("refresh", "failure")); got != 1 {
		t.Fatalf("expected one failed refresh, got %v", got)
	}
}

func TestHTTPMetrics_Wrap(t *testing.T) {
	registry := NewRegistry()
	m := NewHTTPMetrics(registry)

	handler := m.Wrap("/refresh", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected wrapped status to pass through, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.total.WithLabelValues(http.MethodPost, "/refresh", "429")); got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
	if body := scrape(t, registry); !strings.Contains(body, "configdata_http_requests_in_flight 0") {
		t.Error("in-flight gauge should return to zero")
	}
}
