// Package services – SessionService
//
// This file implements issuing, resolving and revoking opaque session
// tokens. A token is 32 random bytes encoded as unpadded base64url; the
// database only ever sees its SHA-256 hash, so a leaked table cannot be
// replayed as cookies.
//
// Expiry is lazy: rows are never swept, every lookup filters on expires_at.
// Resolved sessions are optionally cached in-process (go-cache) for at most
// the configured TTL and never past their own expiry.
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/repo"
)

const tokenBytes = 32

// SessionService manages bearer sessions.
type SessionService struct {
	DB *gorm.DB
	// Now is the clock; tests inject a fixed one.
	Now func() time.Time

	cache    *cache.Cache
	cacheTTL time.Duration
}

// NewSessionService constructs a SessionService. cacheTTL <= 0 disables the
// in-process session cache.
func NewSessionService(db *gorm.DB, cacheTTL time.Duration) *SessionService {
	s := &SessionService{DB: db, Now: time.Now}
	if cacheTTL > 0 {
		s.cacheTTL = cacheTTL
		s.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// Issue creates a new session for userID and returns the raw token along
// with its expiry. Earlier sessions of the same user stay valid.
func (s *SessionService) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Issue")
	defer span.End()

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now()
	sess := &domain.Session{
		TokenHash: hashToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.SessionLifetime),
	}
	if err := repo.CreateSession(ctx, s.DB, sess); err != nil {
		return "", time.Time{}, err
	}
	return token, sess.ExpiresAt, nil
}

// Resolve maps a raw token to its user id. Missing, unknown, and expired
// tokens (expiresAt <= now) all yield ErrUnauthorized.
func (s *SessionService) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	now := s.now()
	h := hashToken(token)

	if s.cache != nil {
		if v, ok := s.cache.Get(h); ok {
			sess := v.(domain.Session)
			if sess.Valid(now) {
				return sess.UserID, nil
			}
			s.cache.Delete(h)
			return "", ErrUnauthorized
		}
	}

	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Resolve")
	defer span.End()

	sess, err := repo.GetActiveSession(ctx, s.DB, h, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		ttl := s.cacheTTL
		if remaining := sess.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
		s.cache.Set(h, *sess, ttl)
	}
	return sess.UserID, nil
}

// Revoke deletes the session for token. Revoking an unknown, expired or
// empty token is a no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Revoke")
	defer span.End()

	h := hashToken(token)
	if s.cache != nil {
		s.cache.Delete(h)
	}
	return repo.DeleteSession(ctx, s.DB, h)
}

func (s *SessionService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
