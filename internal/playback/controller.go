package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/embed"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

const (
	DefaultRefreshInterval   = 30 * time.Second
	DefaultControlsHideDelay = 10 * time.Second
	DefaultLoadTimeout       = 20 * time.Second
	DefaultIssueAttempts     = 3

	MinRate   = 0.25
	MaxRate   = 2.0
	MinVolume = 0
	MaxVolume = 100
)

var (
	ErrEmbedLoad    = errors.New("embed failed to load")
	ErrPlayback     = errors.New("playback error")
	ErrTokenExpired = errors.New("video token expired")
	ErrInvalidState = errors.New("command not valid in current state")
	ErrNoSession    = errors.New("no lesson loaded")
	ErrClosed       = errors.New("controller closed")
)

// Mode selects who renders the control surface.
type Mode int

const (
	// ModeCustomOverlay draws our own controls over the embed and hides them
	// after inactivity.
	ModeCustomOverlay Mode = iota
	// ModeNativeControls leaves the control surface to the embed.
	ModeNativeControls
)

type Lesson struct {
	ID       string
	CourseID string
}

// Issuer obtains a video token for the current viewer.
type Issuer interface {
	Issue(ctx context.Context, lesson Lesson) (videotoken.Grant, error)
}

// SessionInfo is what a freshly built session hands to its embed factory
// and observers.
type SessionInfo struct {
	ID          string
	Lesson      Lesson
	VideoID     string
	MediaKind   string
	PlaybackURL string
	UserID      string
	ViewerName  string
}

// Embed is the controller's view of an embed command channel.
type Embed interface {
	Send(fn embed.Func, args ...any)
	OnEvent(h func(embed.Event)) func()
	Close()
}

type EmbedFactory func(ctx context.Context, info SessionInfo) (Embed, error)

// Observer is started once per session and must return when ctx is
// cancelled. Observers must not call Load, Retry or Close.
type Observer interface {
	Observe(ctx context.Context, info SessionInfo)
}

type ObserverFunc func(ctx context.Context, info SessionInfo)

func (f ObserverFunc) Observe(ctx context.Context, info SessionInfo) { f(ctx, info) }

type Config struct {
	Mode     Mode
	Issuer   Issuer
	NewEmbed EmbedFactory
	Clock    clockwork.Clock

	RefreshInterval   time.Duration
	RefreshThreshold  time.Duration
	ControlsHideDelay time.Duration
	LoadTimeout       time.Duration
	IssueAttempts     uint
	IssueBackOff      func() backoff.BackOff

	Observers []Observer
}

// Snapshot is a copy of the session for the host. Err is set in Error.
type Snapshot struct {
	SessionID       string
	LessonID        string
	CourseID        string
	MediaRef        string
	PlaybackURL     string
	State           State
	CurrentTime     float64
	Duration        float64
	Rate            float64
	Volume          int
	Muted           bool
	ControlsVisible bool
	TokenExpiresAt  time.Time
	Err             error
}

type session struct {
	id          string
	gen         uint64
	lesson      Lesson
	mediaRef    string
	playbackURL string
	state       State
	currentTime float64
	duration    float64
	rate        float64
	volume      int
	muted       bool
	controls    bool
	token       videotoken.AccessToken
	err         error

	embed       Embed
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	hideTimer   clockwork.Timer
	loadTimer   clockwork.Timer
}

// Controller is the single source of truth for one viewer's playback. All
// state lives behind mu; Load, Retry and Close are additionally serialised
// so only one session is ever being built or torn down.
type Controller struct {
	cfg Config

	lifecycle sync.Mutex
	notify    sync.Mutex

	mu      sync.Mutex
	gen     uint64
	sess    *session
	closed  bool
	subs    map[int]func(Snapshot)
	nextSub int
}

func New(cfg Config) (*Controller, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("playback: issuer is required")
	}
	if cfg.NewEmbed == nil {
		return nil, errors.New("playback: embed factory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = videotoken.DefaultRefreshLead
	}
	if cfg.ControlsHideDelay <= 0 {
		cfg.ControlsHideDelay = DefaultControlsHideDelay
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.IssueAttempts == 0 {
		cfg.IssueAttempts = DefaultIssueAttempts
	}
	if cfg.IssueBackOff == nil {
		cfg.IssueBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	return &Controller{cfg: cfg, subs: make(map[int]func(Snapshot))}, nil
}

// Register adds an observer. It takes effect from the next Load.
func (c *Controller) Register(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Observers = append(c.cfg.Observers, o)
}

// Subscribe registers fn for every state change, delivered in mutation order.
// fn must not call back into the controller.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.sess
	if s == nil {
		return Snapshot{State: Uninitialized}
	}
	return Snapshot{
		SessionID:       s.id,
		LessonID:        s.lesson.ID,
		CourseID:        s.lesson.CourseID,
		MediaRef:        s.mediaRef,
		PlaybackURL:     s.playbackURL,
		State:           s.state,
		CurrentTime:     s.currentTime,
		Duration:        s.duration,
		Rate:            s.rate,
		Volume:          s.volume,
		Muted:           s.muted,
		ControlsVisible: s.controls,
		TokenExpiresAt:  s.token.ExpiresAt,
		Err:             s.err,
	}
}

// unlockAndPublish releases mu and hands the current snapshot to
// subscribers. notify is taken before mu is released so deliveries keep
// mutation order.
func (c *Controller) unlockAndPublish() {
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.notify.Lock()
	c.mu.Unlock()
	defer c.notify.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// Load discards the current session, if any, and builds a fresh one for
// lesson: new id, new token, new embed.
func (c *Controller) Load(ctx context.Context, lesson Lesson) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.load(ctx, lesson)
}

// Retry rebuilds the failed session from scratch for the same lesson.
func (c *Controller) Retry(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if s.state != Error {
		state := s.state
		c.mu.Unlock()
		return fmt.Errorf("%w: retry in %s", ErrInvalidState, state)
	}
	lesson := s.lesson
	c.mu.Unlock()

	slog.Info("playback: retrying session", "lesson_id", lesson.ID)
	return c.load(ctx, lesson)
}

// Close tears down the current session. The controller is unusable after.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()
	c.mu.Lock()
	c.closed = true
	c.subs = make(map[int]func(Snapshot))
	c.mu.Unlock()
}

func (c *Controller) load(ctx context.Context, lesson Lesson) error {
	c.teardown()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	s := &session{
		id:     uuid.NewString(),
		gen:    c.gen,
		lesson: lesson,
		state:  Uninitialized,
		rate:   1,
		volume: MaxVolume,
	}
	c.sess = s
	c.unlockAndPublish()

	grant, err := c.issueToken(ctx, lesson)
	if err != nil {
		slog.Warn("playback: token issue failed", "session_id", s.id, "lesson_id", lesson.ID, "error", err)
		c.fail(s, TriggerFault, err)
		return err
	}

	info := SessionInfo{
		ID:          s.id,
		Lesson:      lesson,
		VideoID:     grant.VideoID,
		MediaKind:   grant.MediaKind,
		PlaybackURL: grant.PlaybackURL,
		UserID:      grant.UserID,
		ViewerName:  grant.ViewerName,
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	emb, err := c.cfg.NewEmbed(sessCtx, info)
	if err != nil {
		cancel()
		err = fmt.Errorf("%w: %w", ErrEmbedLoad, err)
		slog.Warn("playback: embed creation failed", "session_id", s.id, "lesson_id", lesson.ID, "error", err)
		c.fail(s, TriggerFault, err)
		return err
	}

	c.mu.Lock()
	s.token = grant.AccessToken
	s.mediaRef = grant.VideoID
	s.playbackURL = grant.PlaybackURL
	s.embed = emb
	s.cancel = cancel
	s.unsubscribe = emb.OnEvent(func(ev embed.Event) { c.handleEvent(s, ev) })
	c.transitionLocked(s, TriggerEmbedCreated)
	c.activityLocked(s)
	s.loadTimer = c.cfg.Clock.AfterFunc(c.cfg.LoadTimeout, func() {
		slog.Warn("playback: embed did not become ready", "session_id", s.id, "timeout", c.cfg.LoadTimeout)
		c.fail(s, TriggerLoadError, fmt.Errorf("%w: not ready after %s", ErrEmbedLoad, c.cfg.LoadTimeout))
	})

	observers := slices.Clone(c.cfg.Observers)
	s.wg.Add(1 + len(observers))
	go c.refreshLoop(sessCtx, s, c.cfg.Clock.NewTimer(c.checkIntervalLocked(s)))
	for _, o := range observers {
		go func(o Observer) {
			defer s.wg.Done()
			o.Observe(sessCtx, info)
		}(o)
	}
	c.unlockAndPublish()

	slog.Info("playback: session started",
		"session_id", s.id,
		"lesson_id", lesson.ID,
		"course_id", lesson.CourseID,
		"token_expires_at", grant.ExpiresAt,
	)
	return nil
}

// teardown cancels every timer, goroutine and embed subscription of the
// current session and waits for them to finish.
func (c *Controller) teardown() {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.transitionLocked(s, TriggerSelectLesson)
	if s.hideTimer != nil {
		s.hideTimer.Stop()
	}
	if s.loadTimer != nil {
		s.loadTimer.Stop()
	}
	c.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.embed != nil {
		s.embed.Close()
	}
	slog.Debug("playback: session torn down", "session_id", s.id, "lesson_id", s.lesson.ID)
}

func (c *Controller) issueToken(ctx context.Context, lesson Lesson) (videotoken.Grant, error) {
	return backoff.Retry(ctx, func() (videotoken.Grant, error) {
		grant, err := c.cfg.Issuer.Issue(ctx, lesson)
		if err == nil {
			return grant, nil
		}
		if errors.Is(err, videotoken.ErrServiceUnavailable) {
			return videotoken.Grant{}, err
		}
		return videotoken.Grant{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(c.cfg.IssueBackOff()),
		backoff.WithMaxTries(c.cfg.IssueAttempts),
	)
}

func (c *Controller) transitionLocked(s *session, t Trigger) bool {
	to, ok := Next(s.state, t)
	if !ok {
		slog.Debug("playback: ignored trigger", "session_id", s.id, "state", s.state.String(), "trigger", t.String())
		return false
	}
	s.state = to
	return true
}

// fail moves s to Error if it is still the live session.
func (c *Controller) fail(s *session, t Trigger, err error) {
	c.mu.Lock()
	if c.sess != s || !c.transitionLocked(s, t) {
		c.mu.Unlock()
		return
	}
	s.err = err
	c.unlockAndPublish()
}

// refreshLoop owns timer, which load arms before starting the loop.
func (c *Controller) refreshLoop(ctx context.Context, s *session, timer clockwork.Timer) {
	defer s.wg.Done()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			if !c.refreshToken(ctx, s) {
				return
			}
			timer.Reset(c.checkInterval(s))
		}
	}
}

// checkInterval is the configured interval capped at half the token window.
func (c *Controller) checkInterval(s *session) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkIntervalLocked(s)
}

func (c *Controller) checkIntervalLocked(s *session) time.Duration {
	window := s.token.ExpiresAt.Sub(s.token.IssuedAt)
	interval := c.cfg.RefreshInterval
	if half := window / 2; half > 0 && half < interval {
		interval = half
	}
	return interval
}

// refreshToken re-issues the session token when it is close to expiry. It
// reports whether the loop should keep running.
func (c *Controller) refreshToken(ctx context.Context, s *session) bool {
	c.mu.Lock()
	if c.sess != s || s.state == Error {
		c.mu.Unlock()
		return false
	}
	current := s.token
	c.mu.Unlock()

	if current.Remaining(c.cfg.Clock.Now()) >= c.cfg.RefreshThreshold {
		return true
	}

	grant, err := c.issueToken(ctx, s.lesson)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		switch {
		case errors.Is(err, videotoken.ErrAccessDenied), errors.Is(err, videotoken.ErrAuthRequired):
			slog.Warn("playback: token refresh refused", "session_id", s.id, "lesson_id", s.lesson.ID, "error", err)
			c.fail(s, TriggerFault, err)
			return false
		case current.Expired(c.cfg.Clock.Now()):
			slog.Warn("playback: token lapsed before refresh succeeded", "session_id", s.id, "error", err)
			c.fail(s, TriggerFault, fmt.Errorf("%w: %w", ErrTokenExpired, err))
			return false
		default:
			slog.Warn("playback: token refresh failed, will retry", "session_id", s.id, "error", err)
			return true
		}
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return false
	}
	s.token = grant.AccessToken
	if grant.PlaybackURL != "" {
		s.playbackURL = grant.PlaybackURL
	}
	c.unlockAndPublish()
	slog.Debug("playback: token refreshed", "session_id", s.id, "expires_at", grant.ExpiresAt)
	return true
}

// handleEvent applies an inbound embed event. Inbound state is authoritative
// over optimistic local updates.
func (c *Controller) handleEvent(s *session, ev embed.Event) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case embed.EventReady:
		if c.transitionLocked(s, TriggerReady) && s.loadTimer != nil {
			s.loadTimer.Stop()
		}
	case embed.EventError:
		if c.transitionLocked(s, TriggerFault) {
			s.err = fmt.Errorf("%w: embed error code %d", ErrPlayback, ev.ErrorCode)
			slog.Warn("playback: embed reported error", "session_id", s.id, "code", ev.ErrorCode)
		}
	case embed.EventProgress, embed.EventStateChange:
		if ev.HasDuration && ev.Duration > 0 {
			s.duration = ev.Duration
		}
		if ev.HasTime {
			s.currentTime = ev.CurrentTime
		}
		s.currentTime = clampPosition(s.currentTime, s.duration)
		if ev.HasState {
			c.applyPlayerStateLocked(s, ev.State)
		}
	}
	c.unlockAndPublish()
}

func (c *Controller) applyPlayerStateLocked(s *session, ps embed.PlayerState) {
	switch ps {
	case embed.PlayerPlaying:
		if s.state == Buffering {
			c.transitionLocked(s, TriggerResumed)
		} else if s.state != Playing {
			c.transitionLocked(s, TriggerPlay)
		}
	case embed.PlayerPaused:
		if s.state != Paused {
			c.transitionLocked(s, TriggerPause)
		}
	case embed.PlayerBuffering:
		if s.state != Buffering {
			c.transitionLocked(s, TriggerBuffering)
		}
	case embed.PlayerEnded:
		if c.transitionLocked(s, TriggerEnded) && s.duration > 0 {
			s.currentTime = s.duration
		}
	}
}

func clampPosition(t, duration float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}

// command runs fn against the live session under mu and publishes the
// result.
func (c *Controller) command(fn func(s *session) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s := c.sess
	if s == nil || s.embed == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if err := fn(s); err != nil {
		c.mu.Unlock()
		return err
	}
	c.activityLocked(s)
	c.unlockAndPublish()
	return nil
}

func invalid(op string, s *session) error {
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, op, s.state)
}

func (c *Controller) Play() error {
	return c.command(func(s *session) error {
		if !c.transitionLocked(s, TriggerPlay) {
			return invalid("play", s)
		}
		s.embed.Send(embed.FuncPlay)
		return nil
	})
}

func (c *Controller) Pause() error {
	return c.command(func(s *session) error {
		if !c.transitionLocked(s, TriggerPause) {
			return invalid("pause", s)
		}
		s.embed.Send(embed.FuncPause)
		return nil
	})
}

// Toggle is the implicit play/pause of a click on the video surface.
func (c *Controller) Toggle() error {
	return c.command(func(s *session) error {
		switch s.state {
		case Playing, Buffering:
			c.transitionLocked(s, TriggerPause)
			s.embed.Send(embed.FuncPause)
		case Ready, Paused:
			c.transitionLocked(s, TriggerPlay)
			s.embed.Send(embed.FuncPlay)
		default:
			return invalid("toggle", s)
		}
		return nil
	})
}

// Seek clamps seconds to [0, duration]; only the lower bound applies while
// the duration is unknown.
func (c *Controller) Seek(seconds float64) error {
	return c.command(func(s *session) error {
		if !s.state.acceptsCommands() {
			return invalid("seek", s)
		}
		s.currentTime = clampPosition(seconds, s.duration)
		s.embed.Send(embed.FuncSeek, s.currentTime, true)
		return nil
	})
}

func (c *Controller) SetRate(rate float64) error {
	return c.command(func(s *session) error {
		if !s.state.acceptsCommands() {
			return invalid("set rate", s)
		}
		if math.IsNaN(rate) {
			rate = 1
		}
		s.rate = math.Min(MaxRate, math.Max(MinRate, rate))
		s.embed.Send(embed.FuncSetRate, s.rate)
		return nil
	})
}

func (c *Controller) SetVolume(volume int) error {
	return c.command(func(s *session) error {
		if !s.state.acceptsCommands() {
			return invalid("set volume", s)
		}
		s.volume = min(MaxVolume, max(MinVolume, volume))
		s.embed.Send(embed.FuncSetVolume, s.volume)
		return nil
	})
}

func (c *Controller) SetMuted(muted bool) error {
	return c.command(func(s *session) error {
		if !s.state.acceptsCommands() {
			return invalid("mute", s)
		}
		s.muted = muted
		if muted {
			s.embed.Send(embed.FuncMute)
		} else {
			s.embed.Send(embed.FuncUnMute)
		}
		return nil
	})
}

// Activity reports user input on the control surface: controls show and
// the hide timer restarts.
func (c *Controller) Activity() {
	c.mu.Lock()
	s := c.sess
	if c.closed || s == nil || c.cfg.Mode != ModeCustomOverlay {
		c.mu.Unlock()
		return
	}
	c.activityLocked(s)
	c.unlockAndPublish()
}

func (c *Controller) activityLocked(s *session) {
	if c.cfg.Mode != ModeCustomOverlay {
		return
	}
	s.controls = true
	if s.hideTimer != nil {
		s.hideTimer.Reset(c.cfg.ControlsHideDelay)
		return
	}
	s.hideTimer = c.cfg.Clock.AfterFunc(c.cfg.ControlsHideDelay, func() {
		c.mu.Lock()
		if c.sess != s || !s.controls {
			c.mu.Unlock()
			return
		}
		s.controls = false
		c.unlockAndPublish()
	})
}
