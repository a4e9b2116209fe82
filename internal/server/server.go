package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/auth"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/database"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/progress"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/ratelimit"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/viewer"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB      database.DBTX
	Pinger  Pinger
	Signer  videotoken.PlaybackSigner
	Clients *clientinfo.Resolver
	WebFS   fs.FS

	Metrics        metrics.Recorder
	MetricsHandler http.Handler

	JWTSecret string
	BaseURL   string
	// VideoDomain is the audience baked into video tokens.
	VideoDomain     string
	TokenTTL        time.Duration
	EmbedOrigin     string
	VideoHosts      []string
	StorageEndpoint string
	PlayerMode      playback.Mode
	Clock           clockwork.Clock
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	webFS           fs.FS
	metricsHandler  http.Handler
	authHandler     *auth.Handler
	tokenHandler    *videotoken.Handler
	progressHandler *progress.Handler
	viewerHandler   *viewer.Handler
	limiters        []*ratelimit.Limiter
}

func New(cfg Config) (*Server, error) {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.StorageEndpoint,
		EmbedOrigin:     cfg.EmbedOrigin,
	}))

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Server{
		router:         r,
		pinger:         cfg.Pinger,
		webFS:          cfg.WebFS,
		metricsHandler: cfg.MetricsHandler,
	}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			return nil, errors.New("server: JWT secret is required")
		}
		domain := cfg.VideoDomain
		if domain == "" {
			domain = cfg.BaseURL
		}

		catalog := videotoken.NewPGCatalog(cfg.DB)
		tokens, err := videotoken.NewService(videotoken.Config{
			Secret:  cfg.JWTSecret,
			Domain:  domain,
			TTL:     cfg.TokenTTL,
			Clock:   cfg.Clock,
			Catalog: catalog,
			Audit:   videotoken.NewPGAuditor(cfg.DB),
			Signer:  cfg.Signer,
			Metrics: cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}
		recorder := progress.NewPGRecorder(cfg.DB)

		s.authHandler = auth.NewHandler(cfg.JWTSecret)
		s.tokenHandler = videotoken.NewHandler(tokens, cfg.Clients, cfg.Metrics)
		s.progressHandler = progress.NewHandler(recorder, catalog, cfg.Clock, cfg.Metrics)

		if cfg.EmbedOrigin != "" {
			s.viewerHandler, err = viewer.NewHandler(viewer.Config{
				Tokens:         tokens,
				Progress:       recorder,
				Clients:        cfg.Clients,
				Metrics:        cfg.Metrics,
				EmbedOrigin:    cfg.EmbedOrigin,
				VideoHosts:     cfg.VideoHosts,
				AllowedOrigins: allowedOrigins(cfg.BaseURL),
				Mode:           cfg.PlayerMode,
				Clock:          cfg.Clock,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	s.routes()
	return s, nil
}

func allowedOrigins(baseURL string) []string {
	if baseURL == "" {
		return nil
	}
	return []string{baseURL}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiters' cleanup loops.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) limiter(rps float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rps, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	if s.metricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	if s.tokenHandler != nil {
		tokenLimiter := s.limiter(2, 10)
		s.router.Route("/video-token", func(r chi.Router) {
			r.Use(tokenLimiter.Middleware)
			r.With(s.authHandler.Middleware).Post("/", s.tokenHandler.Issue)
			r.Get("/", s.tokenHandler.Validate)
		})
	}

	if s.progressHandler != nil {
		progressLimiter := s.limiter(5, 20)
		s.router.Route("/api/lessons/{lessonId}", func(r chi.Router) {
			r.Use(progressLimiter.Middleware)
			r.Use(s.authHandler.Middleware)
			r.Post("/complete", s.progressHandler.Complete)
			r.Get("/progress", s.progressHandler.Get)
		})
	}

	if s.viewerHandler != nil {
		watchLimiter := s.limiter(0.5, 5)
		s.router.With(watchLimiter.Middleware).Get("/ws/watch", s.viewerHandler.Watch)
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
