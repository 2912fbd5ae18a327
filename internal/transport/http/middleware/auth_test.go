package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kpiboard/internal/domain/auth"
	"kpiboard/internal/domain/kpi"
)

const testSecret = "test-secret"

func protected(t *testing.T, guard func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	return Auth(testSecret)(guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		w.Header().Set("X-User", user.Name)
		w.WriteHeader(http.StatusOK)
	})))
}

func bearerRequest(t *testing.T, name, role string) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.Claims{Name: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRequireUser(t *testing.T) {
	handler := protected(t, RequireUser)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(t, "Alice", kpi.RoleEmployee))
	if rec.Code != http.StatusOK || rec.Header().Get("X-User") != "Alice" {
		t.Fatalf("expected authenticated request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous request, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	bad := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := protected(t, RequireAdmin)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(t, "Boss", kpi.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(t, "Alice", kpi.RoleEmployee))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", rec.Code)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Fatal("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request ID header")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "fixed-id" {
		t.Fatal("expected caller-provided request ID to be echoed")
	}
}
