package protect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
)

// InertText replaces anything the viewer tries to copy out of a protected
// view.
const InertText = "This lesson video is protected. Links to it cannot be copied."

const copyNotice = "Copying is disabled for protected lessons."

var ErrGuardHeld = errors.New("clipboard guard is held by another view")

// Clipboard is the underlying write capability being guarded.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Notifier shows a short user-visible message.
type Notifier interface {
	Notice(msg string)
}

// Guard overrides clipboard writes for the lifetime of one protected view.
// Only one owner may hold it; Install and Uninstall are idempotent for that
// owner.
type Guard struct {
	clipboard Clipboard
	deny      []*regexp.Regexp
	notifier  Notifier
	metrics   metrics.Recorder

	mu    sync.Mutex
	owner string
}

// NewGuard denies clipboard text that contains a URL on any of hosts or
// their subdomains.
func NewGuard(cb Clipboard, hosts []string, n Notifier, m metrics.Recorder) (*Guard, error) {
	if cb == nil {
		return nil, errors.New("protect: clipboard is required")
	}
	if m == nil {
		m = metrics.Nop{}
	}
	g := &Guard{clipboard: cb, notifier: n, metrics: m}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)(?:^|[^a-z0-9.-])(?:https?://)?(?:[a-z0-9-]+\.)*` +
			regexp.QuoteMeta(h) + `(?::[0-9]+)?(?:[/?#]|[.,;:!)\]'"]*(?:\s|$))`)
		if err != nil {
			return nil, fmt.Errorf("protect: compile denylist for %q: %w", h, err)
		}
		g.deny = append(g.deny, re)
	}
	if len(g.deny) == 0 {
		return nil, errors.New("protect: at least one video host is required")
	}
	return g, nil
}

func (g *Guard) Install(owner string) error {
	if owner == "" {
		return errors.New("protect: guard owner is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.owner {
	case owner:
		return nil
	case "":
		g.owner = owner
		slog.Debug("protect: clipboard guard installed", "owner", owner)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrGuardHeld, g.owner)
	}
}

// Uninstall releases the guard if owner holds it; other callers are ignored.
func (g *Guard) Uninstall(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != owner || owner == "" {
		return
	}
	g.owner = ""
	slog.Debug("protect: clipboard guard uninstalled", "owner", owner)
}

// Scope installs the guard for owner and returns its release function.
func (g *Guard) Scope(owner string) (func(), error) {
	if err := g.Install(owner); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { g.Uninstall(owner) }) }, nil
}

func (g *Guard) Installed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner != ""
}

// Denied reports whether text matches the denylist.
func (g *Guard) Denied(text string) bool {
	for _, re := range g.deny {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// WriteText is the guarded clipboard write. It reports whether the text was
// substituted.
func (g *Guard) WriteText(ctx context.Context, text string) (bool, error) {
	if !g.Installed() || !g.Denied(text) {
		return false, g.clipboard.WriteText(ctx, text)
	}
	g.metrics.CopyAttemptBlocked("clipboard")
	if g.notifier != nil {
		g.notifier.Notice(copyNotice)
	}
	return true, g.clipboard.WriteText(ctx, InertText)
}
