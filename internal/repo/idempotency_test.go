package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetIdempotency_BlankInputs_ReturnNotFound(t *testing.T) {
	db := newRepoDB(t, true)
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank conversation, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "c1", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestIdempotency_SaveGetAndExpiry(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := SaveIdempotency(ctx, db, "u1", "c1", "k1", "m1", now, time.Hour); err != nil {
		t.Fatalf("SaveIdempotency: %v", err)
	}

	rec, err := GetIdempotency(ctx, db, "u1", "c1", "k1", now.Add(time.Minute))
	if err != nil || rec.MessageID != "m1" {
		t.Fatalf("GetIdempotency: got %+v err=%v", rec, err)
	}

	// scoped by user and conversation
	if _, err := GetIdempotency(ctx, db, "u2", "c1", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user should miss, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "c2", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other conversation should miss, got %v", err)
	}

	// live duplicate
	if _, err := SaveIdempotency(ctx, db, "u1", "c1", "k1", "m2", now.Add(time.Minute), time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// expired: invisible, and the key can be reused
	later := now.Add(2 * time.Hour)
	if _, err := GetIdempotency(ctx, db, "u1", "c1", "k1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should miss, got %v", err)
	}
	if _, err := SaveIdempotency(ctx, db, "u1", "c1", "k1", "m3", later, time.Hour); err != nil {
		t.Fatalf("reuse after expiry: %v", err)
	}
	rec, err = GetIdempotency(ctx, db, "u1", "c1", "k1", later)
	if err != nil || rec.MessageID != "m3" {
		t.Fatalf("expected replaced record, got %+v err=%v", rec, err)
	}
}

func TestSaveIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if _, err := SaveIdempotency(context.Background(), db, "u1", "c1", "k1", "m1", time.Now(), time.Hour); err == nil {
		t.Fatalf("expected error due to missing table")
	}
}
