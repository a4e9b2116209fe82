// Package protect holds the best-effort anti-leak layer drawn over the
// embedded player: click-zone interception, the moving identity watermark
// and the clipboard guard.
package protect

import "math"

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Valid rejects the NaN and infinite values a detached element can report.
func (r Rect) Valid() bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !r.Empty()
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

type ZoneKind int

const (
	BottomControlBar ZoneKind = iota + 1
	RightControlCluster
	TopRightMenu
)

func (k ZoneKind) String() string {
	switch k {
	case BottomControlBar:
		return "bottom_control_bar"
	case RightControlCluster:
		return "right_control_cluster"
	case TopRightMenu:
		return "top_right_menu"
	default:
		return "none"
	}
}

func (k ZoneKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type Zone struct {
	Rect
	Kind ZoneKind `json:"kind"`
}

// Fractions of the player rectangle where embeds conventionally put their
// share, copy-link and settings affordances.
const (
	bottomBarHeight    = 0.15
	rightClusterWidth  = 0.15
	topRightMenuHeight = 0.15
	topRightMenuWidth  = 0.30
)

// Zones derives the protection zones for a player rectangle. The right
// cluster spans the gap between the top-right menu and the bottom bar.
func Zones(r Rect) []Zone {
	if !r.Valid() {
		return nil
	}
	barH := r.Height * bottomBarHeight
	menuH := r.Height * topRightMenuHeight
	menuW := r.Width * topRightMenuWidth
	clusterW := r.Width * rightClusterWidth

	return []Zone{
		{
			Rect: Rect{X: r.X, Y: r.Y + r.Height - barH, Width: r.Width, Height: barH},
			Kind: BottomControlBar,
		},
		{
			Rect: Rect{X: r.X + r.Width - clusterW, Y: r.Y + menuH, Width: clusterW, Height: r.Height - menuH - barH},
			Kind: RightControlCluster,
		},
		{
			Rect: Rect{X: r.X + r.Width - menuW, Y: r.Y, Width: menuW, Height: menuH},
			Kind: TopRightMenu,
		},
	}
}

// ZoneAt returns the zone containing (x, y).
func ZoneAt(zones []Zone, x, y float64) (Zone, bool) {
	for _, z := range zones {
		if z.Contains(x, y) {
			return z, true
		}
	}
	return Zone{}, false
}
