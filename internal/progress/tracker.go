// Package progress samples playback position, decides completion and
// records it through an idempotent upsert.
package progress

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
	DefaultSampleInterval = time.Second
	CompletionThreshold   = 0.90
)

// Source is read on every sample.
type Source interface {
	Snapshot() playback.Snapshot
}

type Config struct {
	UserID   string
	Source   Source
	Recorder Recorder
	Clock    clockwork.Clock
	Interval time.Duration
	Metrics  metrics.Recorder
}

// Tracker observes one controller. Each session gets a fresh completed
// flag, so completion fires at most once per session.
type Tracker struct {
	userID   string
	source   Source
	recorder Recorder
	clock    clockwork.Clock
	interval time.Duration
	metrics  metrics.Recorder

	mu        sync.Mutex
	sessionID string
	lessonID  string
	started   bool
	completed bool
}

func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.UserID == "" {
		return nil, errors.New("progress: user id is required")
	}
	if cfg.Source == nil || cfg.Recorder == nil {
		return nil, errors.New("progress: source and recorder are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Tracker{
		userID:   cfg.UserID,
		source:   cfg.Source,
		recorder: cfg.Recorder,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
	}, nil
}

// Reached reports whether position counts as watched.
func Reached(current, duration float64) bool {
	return duration > 0 && current/duration >= CompletionThreshold
}

// Observe samples the controller until ctx is cancelled.
func (t *Tracker) Observe(ctx context.Context, info playback.SessionInfo) {
	t.mu.Lock()
	t.sessionID = info.ID
	t.lessonID = info.Lesson.ID
	t.started = false
	t.completed = false
	t.mu.Unlock()

	timer := t.clock.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			t.sample(ctx, info.ID)
			timer.Reset(t.interval)
		}
	}
}

func (t *Tracker) sample(ctx context.Context, sessionID string) {
	snap := t.source.Snapshot()
	if snap.SessionID != sessionID {
		return
	}

	t.mu.Lock()
	if t.sessionID != sessionID {
		t.mu.Unlock()
		return
	}
	lessonID := t.lessonID
	recordStart := !t.started && (snap.State == playback.Playing || snap.CurrentTime > 0)
	if recordStart {
		t.started = true
	}
	complete := !t.completed && Reached(snap.CurrentTime, snap.Duration)
	if complete {
		t.completed = true
	}
	t.mu.Unlock()

	now := t.clock.Now()
	if recordStart {
		if err := t.recorder.RecordStart(ctx, t.userID, lessonID, now); err != nil {
			slog.Warn("progress: failed to record start", "user_id", t.userID, "lesson_id", lessonID, "error", err)
			t.reset(sessionID, func() { t.started = false })
		}
	}
	if !complete {
		return
	}
	if err := t.recorder.Upsert(ctx, t.userID, lessonID, now); err != nil {
		slog.Warn("progress: failed to record completion", "user_id", t.userID, "lesson_id", lessonID, "error", err)
		t.reset(sessionID, func() { t.completed = false })
		return
	}
	t.metrics.CompletionRecorded("threshold")
	slog.Info("progress: lesson completed",
		"user_id", t.userID,
		"lesson_id", lessonID,
		"position", snap.CurrentTime,
		"duration", snap.Duration,
	)
}

// reset rolls back a claimed flag after a failed write so the next sample
// tries again.
func (t *Tracker) reset(sessionID string, undo func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == sessionID {
		undo()
	}
}

// MarkComplete is the explicit user action; it does not depend on the
// threshold. When lessonID is the lesson being watched, the session stops
// looking for a threshold completion.
func (t *Tracker) MarkComplete(ctx context.Context, lessonID string) error {
	t.mu.Lock()
	sessionID := t.sessionID
	claimed := lessonID == t.lessonID && !t.completed
	if claimed {
		t.completed = true
	}
	t.mu.Unlock()

	if err := t.recorder.Upsert(ctx, t.userID, lessonID, t.clock.Now()); err != nil {
		if claimed {
			t.reset(sessionID, func() { t.completed = false })
		}
		return err
	}
	t.metrics.CompletionRecorded("manual")
	slog.Info("progress: lesson marked complete", "user_id", t.userID, "lesson_id", lessonID)
	return nil
}

func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
