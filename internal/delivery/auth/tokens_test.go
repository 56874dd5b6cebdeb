package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"foodflow/internal/delivery/model"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewManager("secret")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.NewToken(model.RoleShipper, 7, time.Hour)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	role, id, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if role != model.RoleShipper || id != 7 {
		t.Fatalf("unexpected identity %s/%d", role, id)
	}
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	m, _ := NewManager("secret")
	other, _ := NewManager("other")

	foreign, _ := other.NewToken(model.RoleAdmin, 1, time.Hour)
	if _, _, err := m.Parse(foreign); err == nil {
		t.Fatal("token signed with another key must be rejected")
	}
	expired, _ := m.NewToken(model.RoleAdmin, 1, -time.Minute)
	if _, _, err := m.Parse(expired); err == nil {
		t.Fatal("expired token must be rejected")
	}
	if _, err := m.NewToken("courier", 1, time.Hour); err == nil {
		t.Fatal("unknown role must not be signed")
	}
	if _, err := NewManager(""); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestMiddlewareReplacesIdentityHeaders(t *testing.T) {
	m, _ := NewManager("secret")
	token, _ := m.NewToken(model.RoleCustomer, 5, time.Hour)

	var seen http.Header
	h := m.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Admin-ID", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if seen.Get("X-Admin-ID") != "" {
		t.Fatal("spoofed admin header must be dropped")
	}
	if seen.Get("X-Customer-ID") != "5" {
		t.Fatalf("expected customer header from token, got %q", seen.Get("X-Customer-ID"))
	}
}

func TestMiddlewareRequired(t *testing.T) {
	m, _ := NewManager("secret")
	h := m.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	for _, auth := range []string{"", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: expected 401 got %d", auth, rec.Code)
		}
	}
}
