package server

import (
	"fmt"
	"net/http"
	"strings"
)

type SecurityConfig struct {
	BaseURL         string
	StorageEndpoint string
	// EmbedOrigin is the only origin the lesson player may frame.
	EmbedOrigin string
}

func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	storageSuffix := ""
	if cfg.StorageEndpoint != "" {
		storageSuffix = " " + cfg.StorageEndpoint
	}
	frameSrc := "'none'"
	if cfg.EmbedOrigin != "" {
		frameSrc = cfg.EmbedOrigin
	}

	csp := fmt.Sprintf(
		"default-src 'self'; img-src 'self' data:%s; media-src 'self' blob:%s; script-src 'self'; style-src 'self'; connect-src 'self'%s; frame-src %s; frame-ancestors 'self';",
		storageSuffix, storageSuffix, storageSuffix, frameSrc,
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), display-capture=(), clipboard-write=(self)")
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
