package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/httputil"
)

type contextKey string

const viewerKey contextKey = "viewer"

// Viewer is the authenticated caller behind a request.
type Viewer struct {
	UserID string
	Name   string
}

// Handler authenticates viewer session tokens issued by the platform backend.
type Handler struct {
	jwtSecret string
}

func NewHandler(jwtSecret string) *Handler {
	return &Handler{jwtSecret: jwtSecret}
}

// Middleware rejects requests without a valid bearer session token. The error
// body uses the token service vocabulary so the player can redirect to login.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || tokenStr == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
			return
		}

		claims, err := ValidateToken(h.jwtSecret, tokenStr)
		if err != nil || claims.TokenType != tokenTypeAccess || claims.UserID == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
			return
		}

		ctx := ContextWithViewer(r.Context(), Viewer{UserID: claims.UserID, Name: claims.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, v)
}

func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(viewerKey).(Viewer)
	return v, ok && v.UserID != ""
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ViewerFromContext(ctx)
	return v.UserID
}
