package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestBuildAPIURL(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		prefix string
		path   string
		query  string
		want   string
	}{
		{"plain", "http://localhost:8081", "/api", "users/123", "", "http://localhost:8081/api/users/123"},
		{"leading slash stripped", "http://localhost:8081", "/api", "/users/123", "", "http://localhost:8081/api/users/123"},
		{"double leading slash stripped", "http://localhost:8081", "/api", "//users", "", "http://localhost:8081/api/users"},
		{"with query", "http://localhost:8081", "/api", "users", "page=1&limit=10", "http://localhost:8081/api/users?page=1&limit=10"},
		{"query not re-encoded", "http://localhost:8081", "/pz", "search", "q=a%20b&raw=%2F", "http://localhost:8081/pz/search?q=a%20b&raw=%2F"},
		{"empty path", "http://localhost:8081", "/pz", "/", "", "http://localhost:8081/pz/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildAPIURL(tc.base, tc.prefix, tc.path, tc.query); got != tc.want {
				t.Fatalf("buildAPIURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFilterRequestHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Host", "example.com")
	in.Set("Connection", "keep-alive")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Accept-Encoding", "gzip")
	in.Set("X-Custom", "value")
	in.Add("X-Multi", "one")
	in.Add("X-Multi", "two")

	got := filterHeaders(in, hopByHopRequestHeaders)

	for _, name := range []string{"Host", "Connection", "Keep-Alive", "Accept-Encoding"} {
		if got.Get(name) != "" {
			t.Fatalf("header %s survived filtering", name)
		}
	}
	if got.Get("X-Custom") != "value" {
		t.Fatalf("X-Custom = %q, want value", got.Get("X-Custom"))
	}
	if !reflect.DeepEqual(got["X-Multi"], []string{"one", "two"}) {
		t.Fatalf("X-Multi = %v, want both values in order", got["X-Multi"])
	}
}

func TestFilterHeadersIsCaseInsensitive(t *testing.T) {
	in := http.Header{
		"CONNECTION": {"close"},
		"keep-alive": {"timeout=5"},
		"X-Ok":       {"1"},
	}

	got := filterHeaders(in, hopByHopRequestHeaders)

	if len(got) != 1 {
		t.Fatalf("filtered set = %v, want only X-Ok", got)
	}
	if !reflect.DeepEqual(got["X-Ok"], []string{"1"}) {
		t.Fatalf("X-Ok = %v", got["X-Ok"])
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Content-Encoding", "gzip")
	in.Set("Connection", "close")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Content-Type", "application/json")
	in.Set("X-Request-Id", "abc")

	got := filterHeaders(in, hopByHopResponseHeaders)

	for _, name := range []string{"Transfer-Encoding", "Content-Encoding", "Connection", "Keep-Alive"} {
		if got.Get(name) != "" {
			t.Fatalf("header %s survived filtering", name)
		}
	}
	if got.Get("Content-Type") != "application/json" {
		t.Fatalf("Content-Type = %q", got.Get("Content-Type"))
	}
	if got.Get("X-Request-Id") != "abc" {
		t.Fatalf("X-Request-Id = %q", got.Get("X-Request-Id"))
	}
}

func TestProxyForwardsRequestToBackend(t *testing.T) {
	var backendPath, backendQuery string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendPath = r.URL.Path
		backendQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	}))
	defer backend.Close()

	srv := newTestServer(t, t.TempDir(), backend.URL)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pz/widgets?x=1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /pz/widgets?x=1 returned %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rr.Body.String())
	}
	if backendPath != "/pz/widgets" {
		t.Fatalf("backend path = %q, want /pz/widgets", backendPath)
	}
	if backendQuery != "x=1" {
		t.Fatalf("backend query = %q, want x=1", backendQuery)
	}
}

func TestProxyStripsHopByHopAndKeepsCustomHeaders(t *testing.T) {
	var got http.Header
	var gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotHost = r.Host
	}))
	defer backend.Close()

	srv := newTestServer(t, t.TempDir(), backend.URL)

	req := httptest.NewRequest(http.MethodGet, "/pz/anything", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Custom", "v")
	req.Header.Add("X-Multi", "a")
	req.Header.Add("X-Multi", "b")

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("request returned %d", rr.Code)
	}
	if got.Get("Connection") != "" {
		t.Fatal("Connection header was forwarded")
	}
	if got.Get("X-Custom") != "v" {
		t.Fatalf("X-Custom = %q, want v", got.Get("X-Custom"))
	}
	if !reflect.DeepEqual(got["X-Multi"], []string{"a", "b"}) {
		t.Fatalf("X-Multi = %v, want duplicates preserved", got["X-Multi"])
	}
	// The outbound transport addresses the backend, not the inbound host.
	if gotHost == "example.com" {
		t.Fatal("inbound Host header was forwarded to the backend")
	}
}

func TestProxyForwardsMethodAndBody(t *testing.T) {
	var gotMethod, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotMethod = r.Method
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(b)
	}))
	defer backend.Close()

	srv := newTestServer(t, t.TempDir(), backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/pz/items", strings.NewReader(`{"name":"widget"}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want backend status copied", rr.Code)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("backend method = %q", gotMethod)
	}
	if gotBody != `{"name":"widget"}` {
		t.Fatalf("backend body = %q", gotBody)
	}
	if rr.Body.String() != `{"name":"widget"}` {
		t.Fatalf("relayed body = %q", rr.Body.String())
	}
}

func TestProxyRelaysBackendStatusAndHeaders(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer backend.Close()

	srv := newTestServer(t, t.TempDir(), backend.URL)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pz/tea", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418 copied unchanged", rr.Code)
	}
	if rr.Header().Get("X-Upstream") != "1" {
		t.Fatal("backend header X-Upstream was not relayed")
	}
	if rr.Header().Get("Connection") != "" {
		t.Fatal("Connection header leaked into relayed response")
	}
}

func TestProxyReturns502WhenBackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := backend.URL
	backend.Close()

	srv := newTestServer(t, t.TempDir(), target)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pz/anything", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestProxyStreamsLargeBody(t *testing.T) {
	payload := strings.Repeat("0123456789abcdef", 64*1024) // 1 MiB
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer backend.Close()

	srv := newTestServer(t, t.TempDir(), backend.URL)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pz/blob", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != len(payload) {
		t.Fatalf("relayed %d bytes, want %d", rr.Body.Len(), len(payload))
	}
	if rr.Body.String() != payload {
		t.Fatal("relayed body corrupted")
	}
}
