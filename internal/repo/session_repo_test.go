package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/study-assistant/internal/domain"
)

func TestSessionRepo_Lifecycle(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	s := &domain.Session{TokenHash: "h1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(domain.SessionLifetime)}
	if err := CreateSession(ctx, db, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := GetActiveSession(ctx, db, "h1", now.Add(time.Hour))
	if err != nil || got.UserID != "u1" {
		t.Fatalf("GetActiveSession: got %+v err=%v", got, err)
	}

	// exactly at expiry the session is gone, but the row stays
	if _, err := GetActiveSession(ctx, db, "h1", s.ExpiresAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
	var rows int64
	db.Model(&domain.Session{}).Where("token_hash = ?", "h1").Count(&rows)
	if rows != 1 {
		t.Fatalf("expired session must not be swept, rows=%d", rows)
	}

	if err := DeleteSession(ctx, db, "h1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := GetActiveSession(ctx, db, "h1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// idempotent
	if err := DeleteSession(ctx, db, "h1"); err != nil {
		t.Fatalf("second DeleteSession: %v", err)
	}
}

func TestSessionRepo_ManyPerUser(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, h := range []string{"a", "b"} {
		if err := CreateSession(ctx, db, &domain.Session{TokenHash: h, UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatalf("CreateSession(%s): %v", h, err)
		}
	}
	if err := DeleteSession(ctx, db, "a"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := GetActiveSession(ctx, db, "b", now); err != nil {
		t.Fatalf("other session should survive: %v", err)
	}
}
