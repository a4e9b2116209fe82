package viewer

import (
	"encoding/json"
	"time"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/protect"
)

// Inbound frame types.
const (
	frameEmbed     = "embed"
	frameGeometry  = "geometry"
	framePointer   = "pointer"
	frameClipboard = "clipboard"
	frameControl   = "control"
	frameLoad      = "load"
	frameComplete  = "complete"
)

// inbound is every frame the page can send. Only the fields of Type are
// meaningful.
type inbound struct {
	Type string `json:"type"`

	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	Rect    *protect.Rect `json:"rect,omitempty"`
	Trigger string        `json:"trigger,omitempty"`

	Kind string  `json:"kind,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`

	Text string `json:"text,omitempty"`

	Action string  `json:"action,omitempty"`
	Value  float64 `json:"value,omitempty"`

	LessonID string `json:"lessonId,omitempty"`
	Token    string `json:"token,omitempty"`
}

type embedFrame struct {
	Type         string          `json:"type"`
	TargetOrigin string          `json:"targetOrigin"`
	Data         json.RawMessage `json:"data"`
}

type overlayFrame struct {
	Type  string         `json:"type"`
	Rect  protect.Rect   `json:"rect"`
	Zones []protect.Zone `json:"zones"`
}

type watermarkFrame struct {
	Type        string  `json:"type"`
	Label       string  `json:"label"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	LastMovedAt string  `json:"lastMovedAt"`
}

type clipboardFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type noticeFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type verdictFrame struct {
	Type    string `json:"type"`
	Cancel  bool   `json:"cancel"`
	InZone  bool   `json:"inZone"`
	Zone    string `json:"zone,omitempty"`
	Toggled bool   `json:"toggled"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type snapshotFrame struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"sessionId,omitempty"`
	LessonID        string  `json:"lessonId,omitempty"`
	CourseID        string  `json:"courseId,omitempty"`
	MediaRef        string  `json:"mediaRef,omitempty"`
	PlaybackURL     string  `json:"playbackUrl,omitempty"`
	State           string  `json:"state"`
	CurrentTime     float64 `json:"currentTime"`
	Duration        float64 `json:"duration"`
	Rate            float64 `json:"rate"`
	Volume          int     `json:"volume"`
	Muted           bool    `json:"muted"`
	ControlsVisible bool    `json:"controlsVisible"`
	TokenExpiresAt  string  `json:"tokenExpiresAt,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func newSnapshotFrame(s playback.Snapshot) snapshotFrame {
	f := snapshotFrame{
		Type:            "snapshot",
		SessionID:       s.SessionID,
		LessonID:        s.LessonID,
		CourseID:        s.CourseID,
		MediaRef:        s.MediaRef,
		PlaybackURL:     s.PlaybackURL,
		State:           s.State.String(),
		CurrentTime:     s.CurrentTime,
		Duration:        s.Duration,
		Rate:            s.Rate,
		Volume:          s.Volume,
		Muted:           s.Muted,
		ControlsVisible: s.ControlsVisible,
	}
	if !s.TokenExpiresAt.IsZero() {
		f.TokenExpiresAt = s.TokenExpiresAt.UTC().Format(time.RFC3339)
	}
	if s.Err != nil {
		f.Error = errorCode(s.Err)
	}
	return f
}

func parseTrigger(s string) protect.Trigger {
	switch s {
	case "resize":
		return protect.TriggerResize
	case "mutation":
		return protect.TriggerMutation
	case "window_resize":
		return protect.TriggerWindowResize
	default:
		return protect.TriggerPoll
	}
}

func parsePointer(s string) (protect.PointerKind, bool) {
	switch s {
	case "click":
		return protect.Click, true
	case "dblclick":
		return protect.DoubleClick, true
	case "contextmenu":
		return protect.ContextMenu, true
	default:
		return 0, false
	}
}
