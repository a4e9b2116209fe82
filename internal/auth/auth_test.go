package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testSecret = "test-jwt-secret-key"

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body.Error
}

func TestMiddleware_RejectsMissingOrInvalidTokens(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testSecret)
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := httptest.NewRequest(http.MethodGet, "/video-token", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.Middleware(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
			if got := decodeErrorResponse(t, rec); got != "AuthRequired" {
				t.Errorf("expected AuthRequired, got %q", got)
			}
			if called {
				t.Error("next handler must not be called")
			}
		})
	}
}

func TestMiddleware_StoresViewerInContext(t *testing.T) {
	h := NewHandler(testSecret)
	token, err := GenerateAccessToken(testSecret, "user-42", "Grace")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var got Viewer
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ViewerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/video-token", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if got.UserID != "user-42" || got.Name != "Grace" {
		t.Errorf("unexpected viewer in context: %+v", got)
	}
}

func TestUserIDFromContext_EmptyWhenMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := UserIDFromContext(req.Context()); id != "" {
		t.Errorf("expected empty user id, got %q", id)
	}
	if _, ok := ViewerFromContext(req.Context()); ok {
		t.Error("expected no viewer in empty context")
	}
}
