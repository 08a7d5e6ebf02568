package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"jobengine/internal/domain"
)

func TestFailMapsDomainErrors(t *testing.T) {
	app := NewApp(Deps{Logger: zerolog.Nop()})

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &domain.ValidationError{Field: "kind", Message: "unknown"}, http.StatusBadRequest, "invalid_input"},
		{"wrapped validation", fmt.Errorf("list jobs: %w", &domain.ValidationError{Field: "cursor", Message: "bad"}), http.StatusBadRequest, "invalid_input"},
		{"insufficient credit", domain.ErrInsufficientCredit, http.StatusPaymentRequired, "insufficient_credit"},
		{"no account", domain.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"forbidden hides existence", domain.ErrForbidden, http.StatusNotFound, "not_found"},
		{"not retryable", domain.ErrNotRetryable, http.StatusConflict, "not_retryable"},
		{"capacity", domain.ErrCapacityExhausted, http.StatusServiceUnavailable, "capacity_exhausted"},
		{"unexpected", errors.New("pg: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			var body errorBody
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Error.Code, tc.code)
			}
			if tc.code == "internal" && body.Error.Message != "internal error" {
				t.Fatalf("internal message leaked: %q", body.Error.Message)
			}
		})
	}
}

func TestCallbackAuthorization(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"matching secret", "s3cret", "s3cret", true},
		{"wrong secret", "s3cret", "guess", false},
		{"missing header", "s3cret", "", false},
		{"callbacks disabled", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(Deps{CallbackSecret: tc.secret, Logger: zerolog.Nop()})
			req := httptest.NewRequest(http.MethodPost, "/v1/providers/callback/j1", nil)
			if tc.header != "" {
				req.Header.Set("X-Callback-Secret", tc.header)
			}
			if got := app.callbackAuthorized(req); got != tc.want {
				t.Fatalf("callbackAuthorized() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.test"})
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/events", nil)
	if !check(req) {
		t.Fatalf("same-origin request without Origin header should pass")
	}
	req.Header.Set("Origin", "https://app.test")
	if !check(req) {
		t.Fatalf("listed origin should pass")
	}
	req.Header.Set("Origin", "https://evil.test")
	if check(req) {
		t.Fatalf("unlisted origin should fail")
	}
	if !originChecker([]string{"*"})(req) {
		t.Fatalf("wildcard should accept any origin")
	}
}

func TestOpenAPIDocumentIsValidJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	NewApp(Deps{Logger: zerolog.Nop()}).OpenAPIJSON(rr, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi.json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/jobs"]; !ok {
		t.Fatalf("openapi.json does not document /v1/jobs")
	}
}

func TestOpenAPIDocumentHonoursETag(t *testing.T) {
	app := NewApp(Deps{Logger: zerolog.Nop()})
	rr := httptest.NewRecorder()
	app.OpenAPIJSON(rr, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	app.OpenAPIJSON(rr, req)
	if rr.Code != http.StatusNotModified || rr.Body.Len() != 0 {
		t.Fatalf("expected empty 304, got %d with %d bytes", rr.Code, rr.Body.Len())
	}
}

func TestHealthWithoutEngine(t *testing.T) {
	rr := httptest.NewRecorder()
	NewApp(Deps{Logger: zerolog.Nop()}).Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
}
