package videotoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/database"
)

const (
	MediaEmbed  = "embed"
	MediaHosted = "hosted"
)

var ErrLessonNotFound = errors.New("lesson not found")

type Lesson struct {
	ID         string
	CourseID   string
	VideoID    string
	MediaKind  string
	StorageKey string
	Preview    bool
}

// Catalog resolves lessons and answers the enrollment collaborator's
// question: may this user watch this lesson?
type Catalog interface {
	Lesson(ctx context.Context, lessonID string) (Lesson, error)
	Entitled(ctx context.Context, userID string, lesson Lesson) (bool, error)
}

type Issuance struct {
	UserID    string
	LessonID  string
	CourseID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Client    clientinfo.Info
}

// Auditor appends issuance records. It never updates or deletes.
type Auditor interface {
	RecordIssuance(ctx context.Context, rec Issuance) error
}

// PGCatalog reads the platform's course tables.
type PGCatalog struct {
	db database.DBTX
}

func NewPGCatalog(db database.DBTX) *PGCatalog {
	return &PGCatalog{db: db}
}

func (c *PGCatalog) Lesson(ctx context.Context, lessonID string) (Lesson, error) {
	var l Lesson
	err := c.db.QueryRow(ctx,
		`SELECT id, course_id, video_id, media_kind, COALESCE(storage_key, ''), is_preview
		 FROM lessons WHERE id = $1`,
		lessonID,
	).Scan(&l.ID, &l.CourseID, &l.VideoID, &l.MediaKind, &l.StorageKey, &l.Preview)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lesson{}, ErrLessonNotFound
	}
	if err != nil {
		return Lesson{}, fmt.Errorf("query lesson: %w", err)
	}
	return l, nil
}

// Entitled grants preview lessons to everyone, and other lessons to approved
// enrollees and the course instructor.
func (c *PGCatalog) Entitled(ctx context.Context, userID string, lesson Lesson) (bool, error) {
	if lesson.Preview {
		return true, nil
	}
	var ok bool
	err := c.db.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM enrollments
		     WHERE user_id = $1 AND course_id = $2 AND status = 'approved'
		 ) OR EXISTS (
		     SELECT 1 FROM courses WHERE id = $2 AND instructor_id = $1
		 )`,
		userID, lesson.CourseID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query entitlement: %w", err)
	}
	return ok, nil
}

type PGAuditor struct {
	db database.DBTX
}

func NewPGAuditor(db database.DBTX) *PGAuditor {
	return &PGAuditor{db: db}
}

func (a *PGAuditor) RecordIssuance(ctx context.Context, rec Issuance) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO video_token_issuances
		     (user_id, lesson_id, course_id, issued_at, expires_at, remote_ip, country, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.UserID, rec.LessonID, rec.CourseID, rec.IssuedAt, rec.ExpiresAt,
		rec.Client.IP, rec.Client.Country, rec.Client.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert issuance: %w", err)
	}
	return nil
}
