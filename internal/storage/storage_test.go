package storage_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "lessons",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestNewStorageRequiresBucket(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Endpoint: "http://localhost:9000"})
	if err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestPlaybackURLIsPresignedForExpiry(t *testing.T) {
	s := newTestStorage(t)

	raw, err := s.PlaybackURL(context.Background(), "courses/c1/l1.mp4", 4*time.Minute)
	if err != nil {
		t.Fatalf("PlaybackURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "localhost:9000" {
		t.Errorf("expected host localhost:9000, got %s", u.Host)
	}
	if !strings.HasPrefix(u.Path, "/lessons/courses/c1/l1.mp4") {
		t.Errorf("expected path-style key, got %s", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "240" {
		t.Errorf("expected X-Amz-Expires=240, got %q", got)
	}
}

func TestPlaybackURLClampsTinyExpiry(t *testing.T) {
	s := newTestStorage(t)

	raw, err := s.PlaybackURL(context.Background(), "k.mp4", 0)
	if err != nil {
		t.Fatalf("PlaybackURL: %v", err)
	}
	u, _ := url.Parse(raw)
	if got := u.Query().Get("X-Amz-Expires"); got != "1" {
		t.Errorf("expected X-Amz-Expires=1, got %q", got)
	}
}

func TestPlaybackURLNilStorage(t *testing.T) {
	var s *storage.Storage
	if _, err := s.PlaybackURL(context.Background(), "k", time.Minute); err == nil {
		t.Fatal("expected error from nil storage")
	}
}
