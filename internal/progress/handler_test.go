package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/auth"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

type memStore struct {
	rows      map[string]Progress
	upsertErr error
}

func (m *memStore) Upsert(ctx context.Context, userID, lessonID string, at time.Time) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	key := userID + "/" + lessonID
	p := m.rows[key]
	p.LessonID = lessonID
	p.Completed = true
	if p.CompletedAt == nil {
		p.CompletedAt = &at
	}
	if p.StartedAt == nil {
		p.StartedAt = &at
	}
	m.rows[key] = p
	return nil
}

func (m *memStore) Get(ctx context.Context, userID, lessonID string) (Progress, error) {
	if p, ok := m.rows[userID+"/"+lessonID]; ok {
		return p, nil
	}
	return Progress{LessonID: lessonID}, nil
}

type courseCatalog struct {
	err error
}

func (c courseCatalog) Lesson(ctx context.Context, lessonID string) (videotoken.Lesson, error) {
	if c.err != nil {
		return videotoken.Lesson{}, c.err
	}
	if lessonID != "L1" {
		return videotoken.Lesson{}, videotoken.ErrLessonNotFound
	}
	return videotoken.Lesson{ID: "L1", CourseID: "C1"}, nil
}

func (c courseCatalog) Entitled(ctx context.Context, userID string, lesson videotoken.Lesson) (bool, error) {
	return userID == "user-1", nil
}

func newProgressRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/lessons/{lessonId}/complete", h.Complete)
	r.Get("/api/lessons/{lessonId}/progress", h.Get)
	return r
}

func serve(router http.Handler, method, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req = req.WithContext(auth.ContextWithViewer(req.Context(), auth.Viewer{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerComplete(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	store := &memStore{rows: map[string]Progress{}}
	router := newProgressRouter(NewHandler(store, courseCatalog{}, clock, nil))

	rec := serve(router, http.MethodPost, "/api/lessons/L1/complete", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp progressResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Completed || resp.CompletedAt == nil || *resp.CompletedAt != "2026-03-01T10:00:00Z" {
		t.Errorf("unexpected response %+v", resp)
	}

	clock.Advance(time.Hour)
	rec = serve(router, http.MethodPost, "/api/lessons/L1/complete", "user-1")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *resp.CompletedAt != "2026-03-01T10:00:00Z" {
		t.Errorf("repeated completion moved completedAt to %s", *resp.CompletedAt)
	}
}

func TestHandlerComplete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		catalog    courseCatalog
		store      *memStore
		path       string
		userID     string
		wantStatus int
	}{
		{"unauthenticated", courseCatalog{}, &memStore{rows: map[string]Progress{}}, "/api/lessons/L1/complete", "", http.StatusUnauthorized},
		{"unknown lesson", courseCatalog{}, &memStore{rows: map[string]Progress{}}, "/api/lessons/L9/complete", "user-1", http.StatusNotFound},
		{"not entitled", courseCatalog{}, &memStore{rows: map[string]Progress{}}, "/api/lessons/L1/complete", "user-2", http.StatusForbidden},
		{"catalog down", courseCatalog{err: errors.New("db down")}, &memStore{rows: map[string]Progress{}}, "/api/lessons/L1/complete", "user-1", http.StatusInternalServerError},
		{"store down", courseCatalog{}, &memStore{rows: map[string]Progress{}, upsertErr: errors.New("db down")}, "/api/lessons/L1/complete", "user-1", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newProgressRouter(NewHandler(tt.store, tt.catalog, nil, nil))
			rec := serve(router, http.MethodPost, tt.path, tt.userID)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandlerGet(t *testing.T) {
	store := &memStore{rows: map[string]Progress{}}
	router := newProgressRouter(NewHandler(store, courseCatalog{}, nil, nil))

	rec := serve(router, http.MethodGet, "/api/lessons/L1/progress", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["lessonId"] != "L1" || resp["completed"] != false {
		t.Errorf("unexpected response %v", resp)
	}
	if _, ok := resp["completedAt"]; ok {
		t.Error("completedAt must be omitted before completion")
	}

	if rec := serve(router, http.MethodGet, "/api/lessons/L1/progress", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without viewer, got %d", rec.Code)
	}
}
