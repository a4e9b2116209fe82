package protect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memClipboard struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (m *memClipboard) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, text)
	return nil
}

func (m *memClipboard) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return ""
	}
	return m.writes[len(m.writes)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) Notice(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type countingMetrics struct {
	mu      sync.Mutex
	blocked map[string]int
}

func (c *countingMetrics) TokenIssued()              {}
func (c *countingMetrics) TokenDenied(string)        {}
func (c *countingMetrics) TokenValidated(string)     {}
func (c *countingMetrics) CompletionRecorded(string) {}
func (c *countingMetrics) ViewerConnected()          {}
func (c *countingMetrics) ViewerDisconnected()       {}
func (c *countingMetrics) CopyAttemptBlocked(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked == nil {
		c.blocked = make(map[string]int)
	}
	c.blocked[kind]++
}

func (c *countingMetrics) get(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked[kind]
}

func newTestGuard(t *testing.T) (*Guard, *memClipboard, *recordingNotifier, *countingMetrics) {
	t.Helper()
	cb := &memClipboard{}
	n := &recordingNotifier{}
	m := &countingMetrics{}
	g, err := NewGuard(cb, []string{"video-host.example"}, n, m)
	require.NoError(t, err)
	return g, cb, n, m
}

func TestGuard_SubstitutesVideoLinks(t *testing.T) {
	g, cb, n, m := newTestGuard(t)
	require.NoError(t, g.Install("view-1"))

	substituted, err := g.WriteText(context.Background(), "https://video-host.example/watch?v=abc")
	require.NoError(t, err)
	require.True(t, substituted)
	require.Equal(t, InertText, cb.last())
	require.Equal(t, 1, n.count())
	require.Equal(t, 1, m.get("clipboard"))

	substituted, err = g.WriteText(context.Background(), "hello world")
	require.NoError(t, err)
	require.False(t, substituted)
	require.Equal(t, "hello world", cb.last())
	require.Equal(t, 1, n.count())
}

func TestGuard_PassesThroughWhenUninstalled(t *testing.T) {
	g, cb, n, _ := newTestGuard(t)
	require.NoError(t, g.Install("view-1"))
	g.Uninstall("view-1")

	substituted, err := g.WriteText(context.Background(), "https://video-host.example/watch?v=abc")
	require.NoError(t, err)
	require.False(t, substituted)
	require.Equal(t, "https://video-host.example/watch?v=abc", cb.last())
	require.Zero(t, n.count())
}

func TestGuard_Denied(t *testing.T) {
	g, _, _, _ := newTestGuard(t)

	tests := []struct {
		text   string
		denied bool
	}{
		{"https://video-host.example/watch?v=abc", true},
		{"http://video-host.example", true},
		{"see video-host.example/embed/xyz later", true},
		{"https://www.video-host.example/v/1", true},
		{"HTTPS://VIDEO-HOST.EXAMPLE/WATCH", true},
		{"https://video-host.example:8443/x", true},
		{"https://video-host.example.", true},
		{"(https://video-host.example)", true},
		{"https://video-host.example, then", true},
		{`"video-host.example"`, true},
		{"video-host.example.evil.test", false},
		{"hello world", false},
		{"https://notvideo-host.example/x", false},
		{"https://video-host.example.evil.test/x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.Equal(t, tt.denied, g.Denied(tt.text))
		})
	}
}

func TestGuard_SingleWriter(t *testing.T) {
	g, _, _, _ := newTestGuard(t)

	require.NoError(t, g.Install("view-1"))
	require.NoError(t, g.Install("view-1"))
	require.ErrorIs(t, g.Install("view-2"), ErrGuardHeld)

	g.Uninstall("view-2")
	require.True(t, g.Installed())

	g.Uninstall("view-1")
	g.Uninstall("view-1")
	require.False(t, g.Installed())

	require.NoError(t, g.Install("view-2"))
	require.True(t, g.Installed())
}

func TestGuard_Scope(t *testing.T) {
	g, _, _, _ := newTestGuard(t)

	release, err := g.Scope("view-1")
	require.NoError(t, err)
	require.True(t, g.Installed())

	_, err = g.Scope("view-2")
	require.ErrorIs(t, err, ErrGuardHeld)

	release()
	release()
	require.False(t, g.Installed())
}

func TestGuard_RejectsEmptyOwner(t *testing.T) {
	g, _, _, _ := newTestGuard(t)
	require.Error(t, g.Install(""))
	require.False(t, g.Installed())
}

func TestNewGuard_Validation(t *testing.T) {
	_, err := NewGuard(nil, []string{"video-host.example"}, nil, nil)
	require.Error(t, err)

	_, err = NewGuard(&memClipboard{}, []string{" ", ""}, nil, nil)
	require.Error(t, err)
}

func TestGuard_WriteErrorPropagates(t *testing.T) {
	cb := &memClipboard{err: errors.New("denied by browser")}
	g, err := NewGuard(cb, []string{"video-host.example"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, g.Install("view-1"))

	substituted, err := g.WriteText(context.Background(), "https://video-host.example/x")
	require.True(t, substituted)
	require.Error(t, err)
}
