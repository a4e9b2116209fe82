package embed

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultQueueSize  = 32
)

// Target is the embed's message port. PostMessage must not call back into
// the Channel.
type Target interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Message is one inbound cross-document message as seen by the host.
type Message struct {
	Origin string
	Data   []byte
}

type Config struct {
	Target       Target
	TargetOrigin string
	// AllowedOrigins defaults to TargetOrigin.
	AllowedOrigins []string
	ID             string
	Clock          clockwork.Clock
	RetryDelay     time.Duration
	QueueSize      int
}

// Channel adapts the embed protocol into Send and OnEvent. Commands sent
// before the embed reports ready are queued and flushed in call order.
type Channel struct {
	target       Target
	targetOrigin string
	allowed      map[string]struct{}
	id           string
	clock        clockwork.Clock
	retryDelay   time.Duration
	queueSize    int

	mu        sync.Mutex
	ready     bool
	closed    bool
	queue     []Command
	handlers  map[int]func(Event)
	nextID    int
	timers    map[clockwork.Timer]struct{}
	retriedHS bool
}

func New(cfg Config) (*Channel, error) {
	if cfg.Target == nil {
		return nil, errors.New("embed: target is required")
	}
	origin := normalizeOrigin(cfg.TargetOrigin)
	if origin == "" {
		return nil, errors.New("embed: target origin is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	allowed := make(map[string]struct{})
	for _, o := range cfg.AllowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			allowed[n] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		allowed[origin] = struct{}{}
	}

	c := &Channel{
		target:       cfg.Target,
		targetOrigin: origin,
		allowed:      allowed,
		id:           cfg.ID,
		clock:        cfg.Clock,
		retryDelay:   cfg.RetryDelay,
		queueSize:    cfg.QueueSize,
		handlers:     make(map[int]func(Event)),
		timers:       make(map[clockwork.Timer]struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendHandshakeLocked()
	c.afterLocked(c.retryDelay, func() {
		if c.ready || c.retriedHS {
			return
		}
		c.retriedHS = true
		c.sendHandshakeLocked()
	})
	return c, nil
}

func (c *Channel) sendHandshakeLocked() {
	data, err := json.Marshal(handshake{Event: "listening", ID: c.id, Channel: "widget"})
	if err != nil {
		return
	}
	if err := c.target.PostMessage(data, c.targetOrigin); err != nil {
		slog.Debug("embed: handshake post failed", "id", c.id, "error", err)
	}
}

// Send is fire-and-forget. Unknown functions are dropped.
func (c *Channel) Send(fn Func, args ...any) {
	if !fn.valid() {
		slog.Warn("embed: dropping unknown command", "func", string(fn))
		return
	}
	cmd := NewCommand(fn, args...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.ready {
		if len(c.queue) >= c.queueSize {
			slog.Debug("embed: queue full, dropping oldest command", "id", c.id, "func", string(c.queue[0].Func))
			c.queue = c.queue[1:]
		}
		c.queue = append(c.queue, cmd)
		return
	}
	c.postLocked(cmd)
}

func (c *Channel) postLocked(cmd Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		slog.Warn("embed: failed to encode command", "func", string(cmd.Func), "error", err)
		return
	}
	if err := c.target.PostMessage(data, c.targetOrigin); err == nil {
		return
	}
	c.afterLocked(c.retryDelay, func() {
		if err := c.target.PostMessage(data, c.targetOrigin); err != nil {
			slog.Debug("embed: command dropped after retry", "id", c.id, "func", string(cmd.Func), "error", err)
		}
	})
}

// afterLocked runs fn under c.mu after d unless the channel closes first.
func (c *Channel) afterLocked(d time.Duration, fn func()) {
	var t clockwork.Timer
	t = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, pending := c.timers[t]; !pending || c.closed {
			return
		}
		delete(c.timers, t)
		fn()
	})
	c.timers[t] = struct{}{}
}

// OnEvent registers h for validated inbound events and returns its
// unsubscribe function.
func (c *Channel) OnEvent(h func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Deliver feeds one inbound message. Messages from origins outside the
// allowlist and unparseable payloads are dropped silently.
func (c *Channel) Deliver(msg Message) {
	if _, ok := c.allowed[normalizeOrigin(msg.Origin)]; !ok {
		slog.Debug("embed: dropped message from unexpected origin", "id", c.id, "origin", msg.Origin)
		return
	}
	ev, err := ParseEvent(msg.Data)
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if ev.Kind == EventReady && !c.ready {
		c.ready = true
		queued := c.queue
		c.queue = nil
		for _, cmd := range queued {
			c.postLocked(cmd)
		}
	}
	handlers := make([]func(Event), 0, len(c.handlers))
	for i := 0; i < c.nextID; i++ {
		if h, ok := c.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close cancels pending retries and drops queued commands and handlers.
// It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.queue = nil
	c.handlers = nil
}

func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
