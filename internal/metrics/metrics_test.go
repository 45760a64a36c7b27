package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsRegistration(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	m.RecordRequest(ClassStatic, "GET", 200, 0.01)
	m.RecordRequest(ClassProxy, "POST", 502, 0.2)
	m.RecordUpstreamLatency(0.05)
	m.RecordUpstreamError()
	m.RecordWebsocketSession()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	want := map[string]bool{
		"pzserve_http_requests_total":           false,
		"pzserve_http_request_duration_seconds": false,
		"pzserve_upstream_latency_seconds":      false,
		"pzserve_upstream_errors_total":         false,
		"pzserve_websocket_sessions_total":      false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("metric %s not found", name)
		}
	}
}

func TestMetricsRequestLabels(t *testing.T) {
	m := New()

	m.RecordRequest(ClassStatic, "GET", 200, 0.01)
	m.RecordRequest(ClassStatic, "GET", 404, 0.01)
	m.RecordRequest(ClassProxy, "GET", 200, 0.01)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != "pzserve_http_requests_total" {
			continue
		}
		if got := len(mf.GetMetric()); got != 3 {
			t.Fatalf("expected 3 label combinations, got %d", got)
		}
		return
	}
	t.Fatal("pzserve_http_requests_total not found")
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	m := New()
	m.RecordRequest(ClassProxy, "GET", 200, 0.01)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rr.Code)
	}
	body, err := io.ReadAll(rr.Result().Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	if !strings.Contains(string(body), "pzserve_http_requests_total") {
		t.Fatal("scrape output missing pzserve_http_requests_total")
	}
}
