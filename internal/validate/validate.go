// Package validate checks identifiers and text supplied by the player page
// before they reach the database or a signed token.
package validate

import "fmt"

const (
	MaxIDLength         = 64
	MaxTokenLength      = 4096
	MaxClipboardLength  = 16 * 1024
	MaxViewerNameLength = 100
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

// checkID allows the characters of UUIDs and slugs.
func checkID(value, field string) string {
	if msg := checkLen(value, MaxIDLength, field); msg != "" {
		return msg
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Sprintf("%s contains invalid characters", field)
		}
	}
	return ""
}

func LessonID(s string) string      { return checkID(s, "lessonId") }
func CourseID(s string) string      { return checkID(s, "courseId") }
func Token(s string) string         { return checkLen(s, MaxTokenLength, "token") }
func ClipboardText(s string) string { return checkLen(s, MaxClipboardLength, "clipboard text") }
func ViewerName(s string) string    { return checkLen(s, MaxViewerNameLength, "viewer name") }
