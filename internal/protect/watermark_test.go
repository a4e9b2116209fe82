package protect

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type staticBounds struct {
	mu   sync.Mutex
	rect Rect
	ok   bool
}

func (b *staticBounds) Rect() (Rect, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rect, b.ok
}

type recordingRenderer struct {
	mu     sync.Mutex
	label  string
	states []WatermarkState
}

func (r *recordingRenderer) RenderWatermark(label string, st WatermarkState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.label = label
	r.states = append(r.states, st)
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func inside(t *testing.T, st WatermarkState, r Rect, w, h float64) {
	t.Helper()
	require.GreaterOrEqual(t, st.X, r.X)
	require.GreaterOrEqual(t, st.Y, r.Y)
	require.LessOrEqual(t, st.X+w, r.X+r.Width)
	require.LessOrEqual(t, st.Y+h, r.Y+r.Height)
}

func TestAnimator_StaysInsideRect(t *testing.T) {
	r := Rect{X: 40, Y: 30, Width: 800, Height: 450}
	a := NewAnimator(WatermarkConfig{
		Label:  "Ada Lovelace",
		Bounds: &staticBounds{rect: r, ok: true},
		Inset:  DefaultMarkInset,
		Rand:   rand.New(rand.NewPCG(1, 2)),
	})

	for range 1000 {
		st, ok := a.Move()
		require.True(t, ok)
		inside(t, st, r, DefaultMarkWidth, DefaultMarkHeight)
		require.GreaterOrEqual(t, st.X, r.X+DefaultMarkInset)
		require.LessOrEqual(t, st.Y+DefaultMarkHeight, r.Y+r.Height-DefaultMarkInset)
	}
}

func TestAnimator_NarrowRectShrinksInset(t *testing.T) {
	r := Rect{Width: DefaultMarkWidth + 4, Height: DefaultMarkHeight + 4}
	a := NewAnimator(WatermarkConfig{
		Bounds: &staticBounds{rect: r, ok: true},
		Inset:  DefaultMarkInset,
		Rand:   rand.New(rand.NewPCG(3, 4)),
	})
	for range 100 {
		st, ok := a.Move()
		require.True(t, ok)
		inside(t, st, r, DefaultMarkWidth, DefaultMarkHeight)
	}
}

func TestAnimator_NoBoundsKeepsPosition(t *testing.T) {
	a := NewAnimator(WatermarkConfig{Bounds: &staticBounds{}})
	_, ok := a.Move()
	require.False(t, ok)
	_, moved := a.State()
	require.False(t, moved)
}

func TestAnimator_FitPullsMarkBackInside(t *testing.T) {
	b := &staticBounds{rect: Rect{Width: 1600, Height: 900}, ok: true}
	a := NewAnimator(WatermarkConfig{
		Bounds: b,
		Rand:   rand.New(rand.NewPCG(5, 6)),
	})
	// Move until the mark lands beyond the smaller rectangle.
	small := Rect{Width: 400, Height: 200}
	for {
		st, _ := a.Move()
		if st.X+DefaultMarkWidth > small.Width {
			break
		}
	}

	st, ok := a.Fit(small)
	require.True(t, ok)
	inside(t, st, small, DefaultMarkWidth, DefaultMarkHeight)
}

func TestAnimator_MovesEveryInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := clockwork.NewFakeClock()
	renderer := &recordingRenderer{}
	a := NewAnimator(WatermarkConfig{
		Label:    "viewer-42",
		Bounds:   &staticBounds{rect: Rect{Width: 800, Height: 450}, ok: true},
		Renderer: renderer,
		Clock:    clock,
		Rand:     rand.New(rand.NewPCG(7, 8)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	wait, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, clock.BlockUntilContext(wait, 1))
	require.Equal(t, 1, renderer.count())

	clock.Advance(DefaultWatermarkInterval - time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, renderer.count())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return renderer.count() == 2 }, time.Second, 5*time.Millisecond)

	st, _ := a.State()
	require.Equal(t, clock.Now(), st.LastMovedAt)
	require.Equal(t, "viewer-42", renderer.label)

	cancel()
	<-done
}
