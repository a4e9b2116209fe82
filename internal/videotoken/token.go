// Package videotoken issues and validates the short-lived credentials that
// bind one viewer to one lesson video.
package videotoken

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/hkdf"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultRefreshLead = 60 * time.Second

	issuer       = "learnova-video"
	keyDerivInfo = "learnova video access token v1"
)

var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("token service unavailable")
	ErrExpired            = errors.New("token expired")
	ErrBadSignature       = errors.New("bad token signature")
	ErrDomainMismatch     = errors.New("token domain mismatch")
)

// Reason maps an error to the wire vocabulary used by the token API.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return "AuthRequired"
	case errors.Is(err, ErrAccessDenied):
		return "AccessDenied"
	case errors.Is(err, ErrServiceUnavailable):
		return "ServiceUnavailable"
	case errors.Is(err, ErrExpired):
		return "Expired"
	case errors.Is(err, ErrDomainMismatch):
		return "DomainMismatch"
	case errors.Is(err, ErrBadSignature):
		return "BadSignature"
	default:
		return "Unknown"
	}
}

// AccessToken is immutable once issued. Signature carries the signed JWT
// that the viewer presents back to the service.
type AccessToken struct {
	LessonID   string
	CourseID   string
	UserID     string
	ViewerName string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Signature  string
}

// Expired reports whether now is at or past the expiry instant.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t AccessToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Grant is an issued token plus what the player needs to mount the video.
type Grant struct {
	AccessToken
	VideoID     string
	MediaKind   string
	PlaybackURL string
}

type Claims struct {
	LessonID string `json:"lessonId"`
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type IssueRequest struct {
	UserID     string
	ViewerName string
	LessonID   string
	CourseID   string
	Client     clientinfo.Info
}

// PlaybackSigner presigns media-host URLs for hosted lessons.
type PlaybackSigner interface {
	PlaybackURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Config struct {
	// Secret is the platform JWT secret. The token signing key is derived
	// from it so session tokens and video tokens are not interchangeable.
	Secret  string
	Domain  string
	TTL     time.Duration
	Clock   clockwork.Clock
	Catalog Catalog
	Audit   Auditor
	Signer  PlaybackSigner
	Metrics metrics.Recorder
}

type Service struct {
	key     []byte
	domain  string
	ttl     time.Duration
	clock   clockwork.Clock
	catalog Catalog
	audit   Auditor
	signer  PlaybackSigner
	metrics metrics.Recorder
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("videotoken: secret is required")
	}
	if cfg.Domain == "" {
		return nil, errors.New("videotoken: domain is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("videotoken: catalog is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	key, err := deriveKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	return &Service{
		key:     key,
		domain:  cfg.Domain,
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		catalog: cfg.Catalog,
		audit:   cfg.Audit,
		signer:  cfg.Signer,
		metrics: cfg.Metrics,
	}, nil
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue re-checks entitlement on every call; callers never get a token on
// the strength of a client-side check.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Grant, error) {
	grant, err := s.issue(ctx, req)
	if err != nil {
		s.metrics.TokenDenied(Reason(err))
		return Grant{}, err
	}
	s.metrics.TokenIssued()
	return grant, nil
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (Grant, error) {
	if req.UserID == "" {
		return Grant{}, ErrAuthRequired
	}
	if req.LessonID == "" {
		return Grant{}, fmt.Errorf("%w: lesson is required", ErrAccessDenied)
	}

	lesson, err := s.catalog.Lesson(ctx, req.LessonID)
	if errors.Is(err, ErrLessonNotFound) {
		return Grant{}, fmt.Errorf("%w: unknown lesson", ErrAccessDenied)
	}
	if err != nil {
		return Grant{}, fmt.Errorf("%w: lookup lesson: %w", ErrServiceUnavailable, err)
	}
	if req.CourseID != "" && req.CourseID != lesson.CourseID {
		return Grant{}, fmt.Errorf("%w: lesson not in course", ErrAccessDenied)
	}

	entitled, err := s.catalog.Entitled(ctx, req.UserID, lesson)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: check entitlement: %w", ErrServiceUnavailable, err)
	}
	if !entitled {
		return Grant{}, ErrAccessDenied
	}

	issuedAt := s.clock.Now().Truncate(time.Second)
	token := AccessToken{
		LessonID:   lesson.ID,
		CourseID:   lesson.CourseID,
		UserID:     req.UserID,
		ViewerName: req.ViewerName,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(s.ttl),
	}
	token.Signature, err = s.sign(token)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: sign token: %w", ErrServiceUnavailable, err)
	}

	grant := Grant{AccessToken: token, VideoID: lesson.VideoID, MediaKind: lesson.MediaKind}
	if lesson.MediaKind == MediaHosted && s.signer != nil {
		grant.PlaybackURL, err = s.signer.PlaybackURL(ctx, lesson.StorageKey, s.ttl)
		if err != nil {
			return Grant{}, fmt.Errorf("%w: presign playback: %w", ErrServiceUnavailable, err)
		}
	}

	s.recordIssuance(ctx, token, req.Client)
	return grant, nil
}

func (s *Service) sign(t AccessToken) (string, error) {
	claims := &Claims{
		LessonID: t.LessonID,
		CourseID: t.CourseID,
		UserID:   t.UserID,
		Name:     t.ViewerName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   t.UserID,
			Audience:  jwt.ClaimStrings{s.domain},
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Service) recordIssuance(ctx context.Context, t AccessToken, client clientinfo.Info) {
	slog.Info("videotoken: issued",
		"user_id", t.UserID,
		"lesson_id", t.LessonID,
		"course_id", t.CourseID,
		"issued_at", t.IssuedAt,
		"expires_at", t.ExpiresAt,
	)
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordIssuance(ctx, Issuance{
		UserID:    t.UserID,
		LessonID:  t.LessonID,
		CourseID:  t.CourseID,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		Client:    client,
	}); err != nil {
		slog.Error("videotoken: failed to record issuance", "user_id", t.UserID, "lesson_id", t.LessonID, "error", err)
	}
}

// Validate checks signature, expiry, audience and that the token was issued
// for lessonID.
func (s *Service) Validate(tokenStr, lessonID string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(s.domain),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrDomainMismatch
	default:
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	if lessonID != "" && claims.LessonID != lessonID {
		return nil, ErrDomainMismatch
	}
	return claims, nil
}
