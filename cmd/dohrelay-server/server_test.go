package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dohrelay/dohrelay/internal/dispatcher"
	"github.com/dohrelay/dohrelay/internal/latency"
)

// fakeUpstream answers every request the same way, regardless of which test upstream URL the
// dispatcher dialled - good enough for exercising the HTTP handler end to end.
type fakeUpstream struct {
	status      int
	contentType string
	body        string
}

func (f *fakeUpstream) Do(req *http.Request) (*http.Response, error) {
	header := http.Header{}
	if f.contentType != "" {
		header.Set("Content-Type", f.contentType)
	}

	return &http.Response{StatusCode: f.status, Header: header, Body: io.NopCloser(bytes.NewReader([]byte(f.body)))}, nil
}

func newTestServer(client dispatcher.HTTPClientDo, upstreams []string) *server {
	mainInit(io.Discard, io.Discard)
	table := latency.New()
	disp := dispatcher.New(client, dispatcher.Config{}, table, nil)

	return &server{stdout: io.Discard, dispatcher: disp, table: table, upstreams: upstreams, listenAddress: "127.0.0.1:0"}
}

func TestServeDoHGetSuccess(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200, contentType: "application/dns-message", body: "answer"},
		[]string{"https://a.example"})

	r := httptest.NewRequest(http.MethodGet, "/dns-query?dns=AAABAAABAAAAAAAAA3d3dwdleGFtcGxlA2NvbQAAAQAB", nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "answer" {
		t.Errorf("got body %q", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS header to be set, got %q", got)
	}
}

func TestServeDoHGetMissingParam(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200}, []string{"https://a.example"})

	r := httptest.NewRequest(http.MethodGet, "/dns-query", nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", w.Code)
	}
}

func TestServeDoHPostSuccess(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200, contentType: "application/dns-message", body: "answer"},
		[]string{"https://a.example"})

	r := httptest.NewRequest(http.MethodPost, "/dns-query", bytes.NewReader([]byte{0x01, 0x02}))
	r.Header.Set("Content-Type", "application/dns-message")
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("got status %d, want 200", w.Code)
	}
}

func TestServeDoHOptionsPreflight(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200}, []string{"https://a.example"})

	r := httptest.NewRequest(http.MethodOptions, "/dns-query", nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("got status %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("expected Access-Control-Allow-Methods to be set on preflight response")
	}
}

func TestServeDoHMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200}, []string{"https://a.example"})

	r := httptest.NewRequest(http.MethodPut, "/dns-query", nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want 405", w.Code)
	}
}

func TestServeDoHAllUpstreamsUnacceptable(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 503, contentType: "text/plain", body: "down"},
		[]string{"https://a.example"})

	r := httptest.NewRequest(http.MethodGet, "/dns-query?dns=AAAA", nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != 503 {
		t.Errorf("got status %d, want 503 passthrough", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200}, []string{"https://a.example"})

	r := httptest.NewRequest(http.MethodGet, consts.HealthPath, nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != 200 {
		t.Errorf("got status %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeUpstream{status: 200}, []string{"https://a.example"})

	r := httptest.NewRequest(http.MethodGet, consts.MetricsPath, nil)
	w := httptest.NewRecorder()
	s.newRouter().ServeHTTP(w, r)

	if w.Code != 200 {
		t.Errorf("got status %d, want 200", w.Code)
	}
}
