// Package viewer hosts protected playback sessions over a WebSocket. The
// page is a thin forwarder: it relays embed messages, player geometry,
// pointer and clipboard events, and applies the frames sent back.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/websocket"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/httputil"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/progress"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/protect"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/validate"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

const (
	defaultOutboxSize = 64
	maxFrameBytes     = 64 << 10
	writeTimeout      = 10 * time.Second
)

// TokenService is the part of videotoken.Service the relay needs.
type TokenService interface {
	Issue(ctx context.Context, req videotoken.IssueRequest) (videotoken.Grant, error)
	Validate(tokenStr, lessonID string) (*videotoken.Claims, error)
}

type Config struct {
	Tokens   TokenService
	Progress progress.Recorder
	Clients  *clientinfo.Resolver
	Metrics  metrics.Recorder

	// EmbedOrigin is the third-party player's origin, e.g.
	// https://www.youtube-nocookie.com.
	EmbedOrigin string
	// VideoHosts are denied on the clipboard. Defaults to EmbedOrigin's host.
	VideoHosts []string
	// AllowedOrigins restricts the WebSocket Origin header. Empty allows any.
	AllowedOrigins []string

	Mode  playback.Mode
	Clock clockwork.Clock

	OutboxSize int
}

type Handler struct {
	cfg     Config
	allowed map[string]struct{}
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("viewer: token service is required")
	}
	if cfg.Progress == nil {
		return nil, errors.New("viewer: progress recorder is required")
	}
	u, err := url.Parse(cfg.EmbedOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("viewer: invalid embed origin %q", cfg.EmbedOrigin)
	}
	if len(cfg.VideoHosts) == 0 {
		cfg.VideoHosts = []string{u.Hostname()}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &Handler{cfg: cfg, allowed: allowed}, nil
}

// Watch handles GET /ws/watch?token=...&lessonId=... The token is checked
// before the upgrade so a bad token gets a plain JSON error.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	lessonID := r.URL.Query().Get("lessonId")
	if tokenStr == "" || lessonID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token and lessonId are required")
		return
	}
	if msg := validate.Token(tokenStr) + validate.LessonID(lessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	claims, err := h.cfg.Tokens.Validate(tokenStr, lessonID)
	if err != nil {
		reason := videotoken.Reason(err)
		h.cfg.Metrics.TokenValidated(reason)
		httputil.WriteError(w, http.StatusUnauthorized, reason)
		return
	}
	h.cfg.Metrics.TokenValidated("Valid")

	client := h.cfg.Clients.Describe(r)
	srv := websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(ws *websocket.Conn) {
			h.serve(ws, claims, client)
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *Handler) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	if len(h.allowed) == 0 {
		return nil
	}
	origin := strings.ToLower(strings.TrimRight(r.Header.Get("Origin"), "/"))
	if _, ok := h.allowed[origin]; !ok {
		slog.Warn("viewer: rejected websocket origin", "origin", origin)
		return fmt.Errorf("origin %q not allowed", origin)
	}
	return nil
}

func (h *Handler) newConn(claims *videotoken.Claims, client clientinfo.Info) (*conn, error) {
	c := &conn{
		id:          uuid.NewString(),
		userID:      claims.UserID,
		tokens:      h.cfg.Tokens,
		embedOrigin: h.cfg.EmbedOrigin,
		clock:       h.cfg.Clock,
		outbox:      make(chan []byte, h.cfg.OutboxSize),
		done:        make(chan struct{}),
	}

	ctrl, err := playback.New(playback.Config{
		Mode: h.cfg.Mode,
		Issuer: tokenIssuer{
			tokens: h.cfg.Tokens,
			userID: claims.UserID,
			name:   claims.Name,
			client: client,
		},
		NewEmbed: c.newEmbed,
		Clock:    h.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	c.ctrl = ctrl

	c.tracker, err = progress.NewTracker(progress.Config{
		UserID:   claims.UserID,
		Source:   ctrl,
		Recorder: h.cfg.Progress,
		Clock:    h.cfg.Clock,
		Metrics:  h.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c.overlay, err = protect.NewSynchronizer(protect.OverlayConfig{
		Geometry:  c,
		Surface:   c,
		Clipboard: c,
		Notifier:  c,
		Toggler:   ctrl,
		Clock:     h.cfg.Clock,
		Metrics:   h.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	label := claims.Name
	if label == "" {
		label = claims.UserID
	}
	c.mark = protect.NewAnimator(protect.WatermarkConfig{
		Label:    label,
		Bounds:   c.overlay,
		Renderer: c,
		Clock:    h.cfg.Clock,
		Inset:    protect.DefaultMarkInset,
	})

	c.guard, err = protect.NewGuard(c, h.cfg.VideoHosts, c, h.cfg.Metrics)
	if err != nil {
		return nil, err
	}

	ctrl.Register(c.tracker)
	ctrl.Register(c.overlay)
	ctrl.Register(c.mark)
	return c, nil
}

func (h *Handler) serve(ws *websocket.Conn, claims *videotoken.Claims, client clientinfo.Info) {
	ws.MaxPayloadBytes = maxFrameBytes
	// The HTTP server's read and write timeouts survive the hijack.
	_ = ws.SetDeadline(time.Time{})
	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	c, err := h.newConn(claims, client)
	if err != nil {
		slog.Error("viewer: failed to set up session", "user_id", claims.UserID, "error", err)
		return
	}

	release, err := c.guard.Scope(c.id)
	if err != nil {
		slog.Error("viewer: clipboard guard unavailable", "conn_id", c.id, "error", err)
		c.ctrl.Close()
		return
	}
	c.release = release

	h.cfg.Metrics.ViewerConnected()
	defer h.cfg.Metrics.ViewerDisconnected()
	slog.Info("viewer: connected", "conn_id", c.id, "user_id", claims.UserID, "lesson_id", claims.LessonID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ws, cancel)
	}()
	defer wg.Wait()
	defer c.shutdown()

	c.unsub = c.ctrl.Subscribe(func(s playback.Snapshot) {
		_ = c.send(newSnapshotFrame(s))
	})

	if err := c.ctrl.Load(ctx, playback.Lesson{ID: claims.LessonID, CourseID: claims.CourseID}); err != nil {
		slog.Warn("viewer: initial load failed", "conn_id", c.id, "lesson_id", claims.LessonID, "error", err)
		c.sendError(err)
	}

	for {
		var f inbound
		if err := websocket.JSON.Receive(ws, &f); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				slog.Info("viewer: disconnected", "conn_id", c.id)
			} else {
				slog.Warn("viewer: read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		c.handle(ctx, f)
	}
}

// writeLoop owns all writes to ws. A failed write cancels the connection.
func (c *conn) writeLoop(ws *websocket.Conn, cancel context.CancelFunc) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(ws, string(b)); err != nil {
				slog.Debug("viewer: write failed", "conn_id", c.id, "error", err)
				cancel()
				ws.Close()
				return
			}
		}
	}
}
