package progress

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestPGRecorder_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO lesson_progress .* ON CONFLICT \(user_id, lesson_id\) DO UPDATE SET\s+completed = true`).
		WithArgs("user-1", "L1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewPGRecorder(mock).Upsert(context.Background(), "user-1", "L1", at); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPGRecorder_RecordStart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	at := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO lesson_progress .* started_at = LEAST\(lesson_progress.started_at, EXCLUDED.started_at\)`).
		WithArgs("user-1", "L1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewPGRecorder(mock).RecordStart(context.Background(), "user-1", "L1", at); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPGRecorder_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	mock.ExpectQuery(`SELECT completed, started_at, completed_at`).
		WithArgs("user-1", "L1").
		WillReturnRows(pgxmock.NewRows([]string{"completed", "started_at", "completed_at"}).
			AddRow(true, &started, &completed))

	p, err := NewPGRecorder(mock).Get(context.Background(), "user-1", "L1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.Completed || p.StartedAt == nil || !p.StartedAt.Equal(started) || p.CompletedAt == nil || !p.CompletedAt.Equal(completed) {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestPGRecorder_GetNotStarted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT completed, started_at, completed_at`).
		WithArgs("user-1", "L9").
		WillReturnError(pgx.ErrNoRows)

	p, err := NewPGRecorder(mock).Get(context.Background(), "user-1", "L9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.LessonID != "L9" || p.Completed || p.StartedAt != nil {
		t.Errorf("expected empty progress, got %+v", p)
	}
}
