package validate

import (
	"strings"
	"testing"
)

func TestLessonID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", ""},
		{"slug", "intro_to-go", ""},
		{"empty", "", ""},
		{"at limit", strings.Repeat("a", MaxIDLength), ""},
		{"over limit", strings.Repeat("a", MaxIDLength+1), "lessonId must be 64 characters or fewer"},
		{"path traversal", "../etc", "lessonId contains invalid characters"},
		{"space", "a b", "lessonId contains invalid characters"},
	}
	for _, tt := range tests {
		if got := LessonID(tt.input); got != tt.want {
			t.Errorf("LessonID(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCourseID(t *testing.T) {
	if got := CourseID("course-1"); got != "" {
		t.Errorf("unexpected error %q", got)
	}
	if got := CourseID("course/1"); got != "courseId contains invalid characters" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestToken(t *testing.T) {
	if got := Token(strings.Repeat("x", MaxTokenLength)); got != "" {
		t.Errorf("unexpected error at limit: %q", got)
	}
	if got := Token(strings.Repeat("x", MaxTokenLength+1)); got != "token must be 4096 characters or fewer" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestClipboardText(t *testing.T) {
	if got := ClipboardText("https://video-host.example/watch?v=abc"); got != "" {
		t.Errorf("unexpected error %q", got)
	}
	if got := ClipboardText(strings.Repeat("x", MaxClipboardLength+1)); got == "" {
		t.Error("expected error over limit")
	}
}

func TestViewerName(t *testing.T) {
	if got := ViewerName("Ada Lovelace"); got != "" {
		t.Errorf("unexpected error %q", got)
	}
	if got := ViewerName(strings.Repeat("n", MaxViewerNameLength+1)); got != "viewer name must be 100 characters or fewer" {
		t.Errorf("unexpected message %q", got)
	}
}
