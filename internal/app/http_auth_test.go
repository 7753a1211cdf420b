package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reparts/api/internal/auth"
	"reparts/api/internal/authpw"
	"reparts/api/internal/store"
)

type fakePasswords struct {
	signInFn func(context.Context, string, string) (store.User, error)
}

func (f *fakePasswords) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, email, password)
	}
	return store.User{}, authpw.ErrInvalidCredentials
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
}

func bearerFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.issueSession(user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return "Bearer " + session.Token
}

func TestSignInReturnsToken(t *testing.T) {
	fs := newFakeStore(sellerUser)
	svc := New(testConfig(), Dependencies{
		Store: fs,
		Passwords: &fakePasswords{signInFn: func(_ context.Context, email, password string) (store.User, error) {
			if email == sellerUser.Email && password == "hunter22" {
				return sellerUser, nil
			}
			return store.User{}, authpw.ErrInvalidCredentials
		}},
	})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"seller@example.com","password":"hunter22"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	token, _ := payload["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected accessToken")
	}
	claims, err := auth.ParseToken([]byte("test-secret"), token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Subject != sellerUser.ID {
		t.Fatalf("expected subject %s, got %s", sellerUser.ID, claims.Subject)
	}
	if payload["userId"] != sellerUser.ID {
		t.Fatalf("expected userId %s, got %v", sellerUser.ID, payload["userId"])
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc := New(testConfig(), Dependencies{Store: newFakeStore(), Passwords: &fakePasswords{}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"x@example.com","password":"nope"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodeResponse(t, rr)["code"]; code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", code)
	}
}

func TestSignInRejectsInvalidBody(t *testing.T) {
	svc := New(testConfig(), Dependencies{Store: newFakeStore(), Passwords: &fakePasswords{}})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodeResponse(t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %v", code)
	}
}

func TestSignInWithoutPasswordBackend(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), nil), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewBufferString(`{"email":"a@example.com","password":"b"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	fs := newFakeStore(sellerUser)
	svc := newTestService(fs, nil)
	server := NewHTTPServer(svc, "*")

	expired, _, err := auth.IssueToken([]byte("test-secret"), sellerUser.ID, sellerUser.Email, "user", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}
	foreign, _, err := auth.IssueToken([]byte("other-secret"), sellerUser.ID, sellerUser.Email, "user", time.Hour)
	if err != nil {
		t.Fatalf("issue foreign token: %v", err)
	}
	unknownUser, _, err := auth.IssueToken([]byte("test-secret"), "ghost", "ghost@example.com", "user", time.Hour)
	if err != nil {
		t.Fatalf("issue token for unknown user: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "wrong secret", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
		{name: "unknown user", header: "Bearer " + unknownUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/listings", bytes.NewBufferString(`{}`))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
			}
			if code := decodeResponse(t, rr)["code"]; code != "UNAUTHORIZED" {
				t.Fatalf("expected UNAUTHORIZED, got %v", code)
			}
		})
	}
}

func TestBannedUserIsRefused(t *testing.T) {
	banned := store.User{ID: "banned-1", Email: "banned@example.com", Role: "user", Banned: true}
	svc := newTestService(newFakeStore(banned), nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("Authorization", bearerFor(t, svc, banned))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodeResponse(t, rr)["code"]; code != "ACCOUNT_BANNED" {
		t.Fatalf("expected ACCOUNT_BANNED, got %v", code)
	}
}

func TestBanUserRouteRequiresAdmin(t *testing.T) {
	fs := newFakeStore(adminUser, otherUser)
	svc := newTestService(fs, nil)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/ban-user/"+adminUser.ID, nil)
	req.Header.Set("Authorization", bearerFor(t, svc, otherUser))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	if msg := decodeResponse(t, rr)["error"]; msg != "Admin only" {
		t.Fatalf("expected Admin only, got %v", msg)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/ban-user/"+otherUser.ID, nil)
	req.Header.Set("Authorization", bearerFor(t, svc, adminUser))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}

	// The banned user's existing token stops working.
	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("Authorization", bearerFor(t, svc, otherUser))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected banned user to get 403, got %d", rr.Code)
	}
}
