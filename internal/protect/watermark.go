package protect

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/playback"
)

const (
	DefaultWatermarkInterval = 30 * time.Second
	DefaultMarkWidth         = 220
	DefaultMarkHeight        = 32
	DefaultMarkInset         = 12
)

// WatermarkState is the top-left corner of the rendered mark.
type WatermarkState struct {
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	LastMovedAt time.Time `json:"lastMovedAt"`
}

// Bounds supplies the protected rectangle. The overlay Synchronizer
// implements it.
type Bounds interface {
	Rect() (Rect, bool)
}

type WatermarkRenderer interface {
	RenderWatermark(label string, st WatermarkState)
}

type WatermarkConfig struct {
	Label      string
	Bounds     Bounds
	Renderer   WatermarkRenderer
	Clock      clockwork.Clock
	Interval   time.Duration
	MarkWidth  float64
	MarkHeight float64
	Inset      float64
	Rand       *rand.Rand
}

// Animator periodically moves the identity watermark to a random point in
// the protected rectangle. It does not look at playback state.
type Animator struct {
	label    string
	bounds   Bounds
	renderer WatermarkRenderer
	clock    clockwork.Clock
	interval time.Duration
	markW    float64
	markH    float64
	inset    float64

	mu    sync.Mutex
	rng   *rand.Rand
	state WatermarkState
	moved bool
}

func NewAnimator(cfg WatermarkConfig) *Animator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatermarkInterval
	}
	if cfg.MarkWidth <= 0 {
		cfg.MarkWidth = DefaultMarkWidth
	}
	if cfg.MarkHeight <= 0 {
		cfg.MarkHeight = DefaultMarkHeight
	}
	if cfg.Inset < 0 {
		cfg.Inset = 0
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Animator{
		label:    cfg.Label,
		bounds:   cfg.Bounds,
		renderer: cfg.Renderer,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		markW:    cfg.MarkWidth,
		markH:    cfg.MarkHeight,
		inset:    cfg.Inset,
		rng:      cfg.Rand,
	}
}

func (a *Animator) Observe(ctx context.Context, _ playback.SessionInfo) {
	a.Run(ctx)
}

// Run places the mark immediately and then every interval until ctx is
// cancelled.
func (a *Animator) Run(ctx context.Context) {
	a.Move()

	timer := a.clock.NewTimer(a.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			a.Move()
			timer.Reset(a.interval)
		}
	}
}

// Move repositions the mark. Without a known rectangle it keeps the old
// position.
func (a *Animator) Move() (WatermarkState, bool) {
	if a.bounds == nil {
		return WatermarkState{}, false
	}
	r, ok := a.bounds.Rect()
	if !ok || !r.Valid() {
		slog.Debug("protect: watermark skipped this frame")
		return WatermarkState{}, false
	}

	a.mu.Lock()
	x := place(r.X, r.Width, a.markW, a.inset, a.rng.Float64())
	y := place(r.Y, r.Height, a.markH, a.inset, a.rng.Float64())
	a.state = WatermarkState{X: x, Y: y, LastMovedAt: a.clock.Now()}
	a.moved = true
	st := a.state
	a.mu.Unlock()

	if a.renderer != nil {
		a.renderer.RenderWatermark(a.label, st)
	}
	return st, true
}

// Fit pulls the mark back inside r after the rectangle shrinks, without
// counting as a move.
func (a *Animator) Fit(r Rect) (WatermarkState, bool) {
	if !r.Valid() {
		return WatermarkState{}, false
	}
	a.mu.Lock()
	if !a.moved {
		a.mu.Unlock()
		return WatermarkState{}, false
	}
	st := a.state
	st.X = clampTo(st.X, r.X, r.Width, a.markW, a.inset)
	st.Y = clampTo(st.Y, r.Y, r.Height, a.markH, a.inset)
	changed := st != a.state
	a.state = st
	a.mu.Unlock()

	if changed && a.renderer != nil {
		a.renderer.RenderWatermark(a.label, st)
	}
	return st, true
}

func (a *Animator) State() (WatermarkState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.moved
}

func (a *Animator) Label() string { return a.label }

// place maps f in [0,1) to an origin that keeps a mark of size mark inside
// [origin, origin+extent], honouring inset where there is room for it.
func place(origin, extent, mark, inset, f float64) float64 {
	lo, hi := span(origin, extent, mark, inset)
	return lo + f*(hi-lo)
}

func clampTo(v, origin, extent, mark, inset float64) float64 {
	lo, hi := span(origin, extent, mark, inset)
	return min(max(v, lo), hi)
}

func span(origin, extent, mark, inset float64) (float64, float64) {
	free := extent - mark
	if free <= 0 {
		return origin, origin
	}
	if 2*inset > free {
		inset = free / 2
	}
	return origin + inset, origin + extent - mark - inset
}
