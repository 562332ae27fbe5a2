// Package services – CredentialService
//
// This file implements account registration and password verification.
// Passwords are hashed with bcrypt; the raw password is never persisted or
// logged, and the hash never leaves this layer.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/repo"
)

const (
	// MinPasswordLen is the minimum accepted password length in characters.
	MinPasswordLen = 6
	// maxPasswordLen is bcrypt's input limit, in bytes.
	maxPasswordLen = 72
	// PasswordHashCost is the bcrypt work factor.
	PasswordHashCost = 10
)

// dummyHash is compared against when the email is unknown, so that unknown
// and known emails cost the same bcrypt work.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("study-assistant-dummy"), PasswordHashCost)

// CredentialService registers users and verifies their passwords.
type CredentialService struct {
	DB *gorm.DB
	// Cost overrides PasswordHashCost when > 0 (tests use bcrypt.MinCost).
	Cost int
}

// NewCredentialService constructs a CredentialService with the default cost.
func NewCredentialService(db *gorm.DB) *CredentialService {
	return &CredentialService{DB: db, Cost: PasswordHashCost}
}

// Register creates a user for email with a bcrypt hash of rawPassword.
//
// Errors:
//   - ErrInvalidInput when email or password is missing, or the password is
//     shorter than MinPasswordLen or longer than bcrypt accepts.
//   - ErrDuplicateEmail when the email is already registered.
func (s *CredentialService) Register(ctx context.Context, email, rawPassword string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/CredentialService").Start(ctx, "Register")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" || rawPassword == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(rawPassword) < MinPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLen)
	}
	if len(rawPassword) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	}

	if _, err := repo.GetUserByEmail(ctx, s.DB, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), s.cost())
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := repo.CreateUser(ctx, s.DB, email, string(hash))
	if errors.Is(err, repo.ErrDuplicate) {
		// lost a race with a concurrent signup
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Verify returns the user whose email and password match. Unknown email and
// wrong password both yield ErrInvalidCredentials.
func (s *CredentialService) Verify(ctx context.Context, email, rawPassword string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/CredentialService").Start(ctx, "Verify")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" || rawPassword == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(rawPassword))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(rawPassword)) != nil {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Get returns the user with the given id.
func (s *CredentialService) Get(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/CredentialService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	return u, err
}

func (s *CredentialService) cost() int {
	if s.Cost > 0 {
		return s.Cost
	}
	return PasswordHashCost
}
