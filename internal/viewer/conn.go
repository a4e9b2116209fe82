package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/embed"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/progress"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/protect"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/validate"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

var (
	errOutboxFull = errors.New("viewer: outbox full")
	errConnClosed = errors.New("viewer: connection closed")
	errNoGeometry = errors.New("viewer: player geometry not reported yet")
)

// errorCode maps session errors to the codes the page shows.
func errorCode(err error) string {
	switch {
	case errors.Is(err, playback.ErrEmbedLoad):
		return "EmbedLoadError"
	case errors.Is(err, playback.ErrPlayback):
		return "PlaybackError"
	case errors.Is(err, playback.ErrTokenExpired):
		return "TokenExpired"
	case errors.Is(err, playback.ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, playback.ErrNoSession):
		return "NoSession"
	case errors.Is(err, playback.ErrClosed):
		return "Closed"
	}
	return videotoken.Reason(err)
}

// tokenIssuer issues tokens for the connected viewer on the controller's
// behalf.
type tokenIssuer struct {
	tokens TokenService
	userID string
	name   string
	client clientinfo.Info
}

func (i tokenIssuer) Issue(ctx context.Context, lesson playback.Lesson) (videotoken.Grant, error) {
	return i.tokens.Issue(ctx, videotoken.IssueRequest{
		UserID:     i.userID,
		ViewerName: i.name,
		LessonID:   lesson.ID,
		CourseID:   lesson.CourseID,
		Client:     i.client,
	})
}

// conn is one viewer's protected playback view. It is the embed's message
// port, the overlay's surface and geometry source, the watermark renderer
// and the raw clipboard, all backed by frames on one socket.
type conn struct {
	id          string
	userID      string
	tokens      TokenService
	embedOrigin string
	clock       clockwork.Clock

	outbox chan []byte
	done   chan struct{}

	ctrl    *playback.Controller
	tracker *progress.Tracker
	overlay *protect.Synchronizer
	mark    *protect.Animator
	guard   *protect.Guard
	release func()
	unsub   func()

	mu      sync.Mutex
	rect    protect.Rect
	hasRect bool
	channel *embed.Channel
}

// send queues v for the writer. It never blocks; callers hold controller
// and channel locks.
func (c *conn) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.outbox <- b:
		return nil
	default:
		slog.Warn("viewer: dropping frame, outbox full", "conn_id", c.id)
		return errOutboxFull
	}
}

func (c *conn) PostMessage(data []byte, targetOrigin string) error {
	return c.send(embedFrame{Type: frameEmbed, TargetOrigin: targetOrigin, Data: data})
}

func (c *conn) PlayerRect() (protect.Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRect {
		return protect.Rect{}, errNoGeometry
	}
	return c.rect, nil
}

func (c *conn) ApplyOverlay(rect protect.Rect, zones []protect.Zone) {
	if zones == nil {
		zones = []protect.Zone{}
	}
	_ = c.send(overlayFrame{Type: "overlay", Rect: rect, Zones: zones})
	if c.mark != nil {
		c.mark.Fit(rect)
	}
}

func (c *conn) RenderWatermark(label string, st protect.WatermarkState) {
	_ = c.send(watermarkFrame{
		Type:        "watermark",
		Label:       label,
		X:           st.X,
		Y:           st.Y,
		LastMovedAt: st.LastMovedAt.UTC().Format(time.RFC3339),
	})
}

// WriteText is the page's real clipboard; the guard sits in front of it.
func (c *conn) WriteText(_ context.Context, text string) error {
	return c.send(clipboardFrame{Type: frameClipboard, Text: text})
}

func (c *conn) Notice(msg string) {
	_ = c.send(noticeFrame{Type: "notice", Message: msg})
}

func (c *conn) sendError(err error) {
	_ = c.send(errorFrame{Type: "error", Error: errorCode(err)})
}

func (c *conn) newEmbed(_ context.Context, info playback.SessionInfo) (playback.Embed, error) {
	ch, err := embed.New(embed.Config{
		Target:       c,
		TargetOrigin: c.embedOrigin,
		ID:           info.ID,
		Clock:        c.clock,
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	return ch, nil
}

func (c *conn) currentChannel() *embed.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *conn) handle(ctx context.Context, f inbound) {
	switch f.Type {
	case frameEmbed:
		if ch := c.currentChannel(); ch != nil {
			ch.Deliver(embed.Message{Origin: f.Origin, Data: f.Data})
		}
	case frameGeometry:
		if f.Rect == nil {
			return
		}
		c.mu.Lock()
		c.rect = *f.Rect
		c.hasRect = true
		c.mu.Unlock()
		c.overlay.Notify(parseTrigger(f.Trigger))
	case framePointer:
		kind, ok := parsePointer(f.Kind)
		if !ok {
			_ = c.send(errorFrame{Type: "error", Error: "unknown pointer kind"})
			return
		}
		v := c.overlay.Intercept(ctx, protect.PointerEvent{Kind: kind, X: f.X, Y: f.Y})
		vf := verdictFrame{Type: "verdict", Cancel: v.Cancel, InZone: v.InZone, Toggled: v.Toggled}
		if v.InZone {
			vf.Zone = v.Zone.String()
		}
		_ = c.send(vf)
	case frameClipboard:
		if msg := validate.ClipboardText(f.Text); msg != "" {
			_ = c.send(errorFrame{Type: "error", Error: msg})
			return
		}
		if _, err := c.guard.WriteText(ctx, f.Text); err != nil {
			slog.Debug("viewer: clipboard write failed", "conn_id", c.id, "error", err)
		}
	case frameControl:
		if err := c.control(ctx, f.Action, f.Value); err != nil {
			c.sendError(err)
		}
	case frameLoad:
		if msg := validate.Token(f.Token) + validate.LessonID(f.LessonID); msg != "" || f.LessonID == "" {
			_ = c.send(errorFrame{Type: "error", Error: "invalid load request"})
			return
		}
		if err := c.load(ctx, f.Token, f.LessonID); err != nil {
			c.sendError(err)
		}
	case frameComplete:
		lessonID := c.ctrl.Snapshot().LessonID
		if lessonID == "" {
			c.sendError(playback.ErrNoSession)
			return
		}
		if err := c.tracker.MarkComplete(ctx, lessonID); err != nil {
			slog.Error("viewer: mark complete failed", "conn_id", c.id, "lesson_id", lessonID, "error", err)
			_ = c.send(errorFrame{Type: "error", Error: "CompletionFailed"})
		}
	default:
		_ = c.send(errorFrame{Type: "error", Error: "unknown frame type"})
	}
}

func (c *conn) control(ctx context.Context, action string, value float64) error {
	switch action {
	case "play":
		return c.ctrl.Play()
	case "pause":
		return c.ctrl.Pause()
	case "toggle":
		return c.ctrl.Toggle()
	case "seek":
		return c.ctrl.Seek(value)
	case "rate":
		return c.ctrl.SetRate(value)
	case "volume":
		return c.ctrl.SetVolume(int(value))
	case "mute":
		return c.ctrl.SetMuted(true)
	case "unmute":
		return c.ctrl.SetMuted(false)
	case "activity":
		c.ctrl.Activity()
		return nil
	case "retry":
		return c.ctrl.Retry(ctx)
	default:
		return fmt.Errorf("%w: unknown action %q", playback.ErrInvalidState, action)
	}
}

// load switches the view to another lesson. The page presents a token for
// it, which must belong to the same viewer.
func (c *conn) load(ctx context.Context, tokenStr, lessonID string) error {
	claims, err := c.tokens.Validate(tokenStr, lessonID)
	if err != nil {
		return err
	}
	if claims.UserID != c.userID {
		return videotoken.ErrAccessDenied
	}
	return c.ctrl.Load(ctx, playback.Lesson{ID: claims.LessonID, CourseID: claims.CourseID})
}

// shutdown stops the session and everything attached to it. The writer is
// told to stop last so final snapshots can still be queued.
func (c *conn) shutdown() {
	if c.unsub != nil {
		c.unsub()
	}
	c.ctrl.Close()
	if c.release != nil {
		c.release()
	}
	close(c.done)
}
