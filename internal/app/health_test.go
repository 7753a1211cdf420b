package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"reparts/api/internal/search"
)

type stubSearch struct {
	healthy bool
}

func (s stubSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (s stubSearch) Healthy() bool { return s.healthy }

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), nil), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	fs := newFakeStore()
	svc := New(testConfig(), Dependencies{Store: fs, Search: stubSearch{healthy: true}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
	checks, _ := response["checks"].(map[string]any)
	index, _ := checks["searchIndex"].(map[string]any)
	if index["status"] != "ok" {
		t.Errorf("expected searchIndex ok, got %v", index["status"])
	}
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := NewHTTPServer(newTestService(fs, nil), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["ok"] != false {
		t.Errorf("expected ok=false, got %v", response["ok"])
	}
	checks, _ := response["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "error" {
		t.Errorf("expected database status error, got %v", database["status"])
	}
}

func TestReadyEndpoint_SearchDegraded(t *testing.T) {
	svc := New(testConfig(), Dependencies{Store: newFakeStore(), Search: stubSearch{healthy: false}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 with degraded search, got %d", rr.Code)
	}
	checks, _ := decodeResponse(t, rr)["checks"].(map[string]any)
	index, _ := checks["searchIndex"].(map[string]any)
	if index["status"] != "degraded" {
		t.Errorf("expected searchIndex degraded, got %v", index["status"])
	}
}

func TestMiddlewareSetsRequestIDAndCORS(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), nil), "https://shop.example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id echoed, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Errorf("expected CORS origin, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/listings", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", rr.Code)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore(sellerUser), nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/nowhere", nil)
	req.Header.Set("Authorization", bearerFor(t, svc, sellerUser))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
