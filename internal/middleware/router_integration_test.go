package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// newProtectedRouter は Recovery -> Logging -> Session -> RateLimit -> CSRF の順で組んだルーターを返す。
func newProtectedRouter(t *testing.T) *chi.Mux {
	t.Helper()
	rl := NewRateLimiter(testRateLimiterConfig(100, 100))
	t.Cleanup(rl.Stop)

	csrfConfig := CSRFConfig{}
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewLoggingMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(tokenResolver("router-test-token", "user-router-test"), SessionCookieConfig{}))
		r.Use(rl.GeneralMiddleware())
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)
		r.Get("/api/protected", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
		r.Post("/api/action", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "action": "done"})
		})
		r.Get("/api/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	return r
}

func TestRouterIntegration_ProtectedRoutes(t *testing.T) {
	r := newProtectedRouter(t)
	session := &http.Cookie{Name: SessionCookieName, Value: "router-test-token"}

	tests := []struct {
		name       string
		method     string
		path       string
		session    bool
		csrf       bool
		wantStatus int
	}{
		{"GET with session", http.MethodGet, "/api/protected", true, false, http.StatusOK},
		{"GET without session", http.MethodGet, "/api/protected", false, false, http.StatusUnauthorized},
		{"POST with session and csrf", http.MethodPost, "/api/action", true, true, http.StatusOK},
		{"POST without csrf", http.MethodPost, "/api/action", true, false, http.StatusForbidden},
		{"POST without session is 401 before csrf", http.MethodPost, "/api/action", false, true, http.StatusUnauthorized},
		{"csrf token requires session", http.MethodGet, "/api/csrf-token", false, false, http.StatusUnauthorized},
		{"csrf token with session", http.MethodGet, "/api/csrf-token", true, false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session {
				req.AddCookie(session)
			}
			if tt.csrf {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
				req.Header.Set(csrfHeaderName, "test-csrf-token")
			}
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
		})
	}
}

func TestRouterIntegration_PanicRecovered(t *testing.T) {
	r := newProtectedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/panic", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "router-test-token"})
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}
