package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/database"
)

// Recorder is the progress-recording collaborator. Both writes are
// idempotent per (userID, lessonID).
type Recorder interface {
	RecordStart(ctx context.Context, userID, lessonID string, startedAt time.Time) error
	Upsert(ctx context.Context, userID, lessonID string, completedAt time.Time) error
}

type Progress struct {
	LessonID    string
	Completed   bool
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type PGRecorder struct {
	db database.DBTX
}

func NewPGRecorder(db database.DBTX) *PGRecorder {
	return &PGRecorder{db: db}
}

// RecordStart keeps the earliest start time. LEAST ignores NULLs.
func (r *PGRecorder) RecordStart(ctx context.Context, userID, lessonID string, startedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, started_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
		     started_at = LEAST(lesson_progress.started_at, EXCLUDED.started_at),
		     updated_at = now()`,
		userID, lessonID, startedAt,
	)
	if err != nil {
		return fmt.Errorf("record start: %w", err)
	}
	return nil
}

// Upsert marks the lesson completed. Repeated calls keep the first
// completion time and never move started_at later.
func (r *PGRecorder) Upsert(ctx context.Context, userID, lessonID string, completedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, completed, started_at, completed_at, updated_at)
		 VALUES ($1, $2, true, $3, $3, now())
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET
		     completed = true,
		     started_at = LEAST(lesson_progress.started_at, EXCLUDED.started_at),
		     completed_at = LEAST(lesson_progress.completed_at, EXCLUDED.completed_at),
		     updated_at = now()`,
		userID, lessonID, completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert completion: %w", err)
	}
	return nil
}

// Get returns the stored progress, or an empty record when the viewer has
// never started the lesson.
func (r *PGRecorder) Get(ctx context.Context, userID, lessonID string) (Progress, error) {
	p := Progress{LessonID: lessonID}
	err := r.db.QueryRow(ctx,
		`SELECT completed, started_at, completed_at
		 FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`,
		userID, lessonID,
	).Scan(&p.Completed, &p.StartedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("query progress: %w", err)
	}
	return p, nil
}
