package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finsync/internal/auth"
)

func TestAuthRejectsMissingHeader(t *testing.T) {
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/sync/run", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))
	request := httptest.NewRequest(http.MethodPost, "/sync/run", nil)
	request.Header.Set("Authorization", "Token abc")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestAuthPassesCaller(t *testing.T) {
	token, err := auth.NewToken("secret", "scheduler", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var caller string
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	request := httptest.NewRequest(http.MethodPost, "/sync/run", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if caller != "scheduler" {
		t.Fatalf("unexpected caller: %s", caller)
	}
}
