package protect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultCoalesceWindow = 16 * time.Millisecond
)

// Trigger names what asked for a resync. All triggers share one coalesced
// resync; the value is only logged.
type Trigger int

const (
	TriggerResize Trigger = iota + 1
	TriggerMutation
	TriggerWindowResize
	TriggerPoll
)

func (t Trigger) String() string {
	switch t {
	case TriggerResize:
		return "resize"
	case TriggerMutation:
		return "mutation"
	case TriggerWindowResize:
		return "window_resize"
	case TriggerPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Geometry reports the player element's current bounding rectangle.
type Geometry interface {
	PlayerRect() (Rect, error)
}

// Surface renders the overlay layer.
type Surface interface {
	ApplyOverlay(rect Rect, zones []Zone)
}

// Toggler receives clicks that land outside every zone.
type Toggler interface {
	Toggle() error
}

type PointerKind int

const (
	Click PointerKind = iota + 1
	DoubleClick
	ContextMenu
)

type PointerEvent struct {
	Kind PointerKind
	X    float64
	Y    float64
}

// Verdict tells the host what to do with a pointer event.
type Verdict struct {
	// Cancel means the event must not reach the embed.
	Cancel  bool
	InZone  bool
	Zone    ZoneKind
	Toggled bool
}

type OverlayConfig struct {
	Geometry       Geometry
	Surface        Surface
	Clipboard      Clipboard
	Notifier       Notifier
	Toggler        Toggler
	Clock          clockwork.Clock
	PollInterval   time.Duration
	CoalesceWindow time.Duration
	Metrics        metrics.Recorder
}

// Synchronizer keeps the overlay rectangle equal to the player's and
// decides which pointer events are intercepted.
type Synchronizer struct {
	geometry Geometry
	surface  Surface
	clip     Clipboard
	notifier Notifier
	toggler  Toggler
	clock    clockwork.Clock
	poll     time.Duration
	window   time.Duration
	metrics  metrics.Recorder

	kick chan Trigger

	mu     sync.Mutex
	rect   Rect
	zones  []Zone
	synced bool
}

func NewSynchronizer(cfg OverlayConfig) (*Synchronizer, error) {
	if cfg.Geometry == nil || cfg.Surface == nil {
		return nil, errors.New("protect: geometry and surface are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Synchronizer{
		geometry: cfg.Geometry,
		surface:  cfg.Surface,
		clip:     cfg.Clipboard,
		notifier: cfg.Notifier,
		toggler:  cfg.Toggler,
		clock:    cfg.Clock,
		poll:     cfg.PollInterval,
		window:   cfg.CoalesceWindow,
		metrics:  cfg.Metrics,
		kick:     make(chan Trigger, 1),
	}, nil
}

// Notify requests a resync. Calls inside one coalescing window collapse
// into a single resync. It never blocks.
func (s *Synchronizer) Notify(t Trigger) {
	select {
	case s.kick <- t:
	default:
	}
}

// Observe runs the synchronizer for one playback session.
func (s *Synchronizer) Observe(ctx context.Context, _ playback.SessionInfo) {
	s.Run(ctx)
}

// Run resyncs once, then on every poll tick and after every burst of
// Notify calls, until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) {
	s.resync(TriggerPoll)

	poll := s.clock.NewTicker(s.poll)
	defer poll.Stop()

	var debounce clockwork.Timer
	var debounceC <-chan time.Time
	var pending Trigger
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.Chan():
			s.resync(TriggerPoll)
		case t := <-s.kick:
			pending = t
			if debounceC != nil {
				continue
			}
			if debounce == nil {
				debounce = s.clock.NewTimer(s.window)
			} else {
				debounce.Reset(s.window)
			}
			debounceC = debounce.Chan()
		case <-debounceC:
			debounceC = nil
			s.resync(pending)
		}
	}
}

func (s *Synchronizer) resync(t Trigger) {
	rect, err := s.geometry.PlayerRect()
	if err != nil || !rect.Valid() {
		slog.Debug("protect: overlay skipped this frame", "trigger", t.String(), "rect", rect, "error", err)
		return
	}

	s.mu.Lock()
	if s.synced && rect == s.rect {
		s.mu.Unlock()
		return
	}
	s.rect = rect
	s.zones = Zones(rect)
	s.synced = true
	zones := append([]Zone(nil), s.zones...)
	s.mu.Unlock()

	s.surface.ApplyOverlay(rect, zones)
}

// Rect returns the last synchronized rectangle.
func (s *Synchronizer) Rect() (Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rect, s.synced
}

// Intercept classifies a pointer event on the overlay. Events inside a zone
// are cancelled and treated as a copy attempt: the clipboard gets the inert
// text and the viewer a notice. Clicks elsewhere toggle playback; a context
// menu elsewhere is suppressed without a notice.
func (s *Synchronizer) Intercept(ctx context.Context, ev PointerEvent) Verdict {
	s.mu.Lock()
	zone, inZone := ZoneAt(s.zones, ev.X, ev.Y)
	s.mu.Unlock()

	if inZone {
		s.metrics.CopyAttemptBlocked(zone.Kind.String())
		if s.clip != nil {
			if err := s.clip.WriteText(ctx, InertText); err != nil {
				slog.Debug("protect: inert clipboard write failed", "error", err)
			}
		}
		if s.notifier != nil {
			s.notifier.Notice(copyNotice)
		}
		return Verdict{Cancel: true, InZone: true, Zone: zone.Kind}
	}

	switch ev.Kind {
	case Click:
		if s.toggler == nil {
			return Verdict{}
		}
		if err := s.toggler.Toggle(); err != nil {
			slog.Debug("protect: click toggle ignored", "error", err)
			return Verdict{Cancel: true}
		}
		return Verdict{Cancel: true, Toggled: true}
	case ContextMenu:
		return Verdict{Cancel: true}
	default:
		return Verdict{}
	}
}
