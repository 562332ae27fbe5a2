package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/study-assistant/internal/domain"
)

func TestCreateConversation_Error_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	c := &domain.Conversation{ID: "c1", UserID: "u1", Title: "t"}
	if err := CreateConversation(context.Background(), db, c, nil); err == nil {
		t.Fatalf("expected error creating without table")
	}
}

func TestCreateConversation_WithMessages_IsAtomic(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	c := &domain.Conversation{ID: "c1", UserID: "u1", Title: "first", CreatedAt: now, UpdatedAt: now}
	msgs := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "hi", Timestamp: now},
		{ID: "m2", Role: domain.RoleAssistant, Content: "hello", Timestamp: now},
	}
	if err := CreateConversation(ctx, db, c, msgs); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	got, err := ListMessages(ctx, db, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", got)
	}

	// A failing message insert must roll back the conversation row.
	c2 := &domain.Conversation{ID: "c2", UserID: "u1", Title: "broken", CreatedAt: now, UpdatedAt: now}
	bad := []domain.Message{
		{ID: "x", Role: domain.RoleUser, Content: "a", Timestamp: now},
		{ID: "x", Role: domain.RoleUser, Content: "b", Timestamp: now},
	}
	if err := CreateConversation(ctx, db, c2, bad); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := GetConversation(ctx, db, "c2", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation must not exist after rollback, got %v", err)
	}
}

func TestListConversations_OrderAndScope(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	seed := []domain.Conversation{
		{ID: "a", UserID: "u1", Title: "A", CreatedAt: t0, UpdatedAt: t0},
		{ID: "b", UserID: "u1", Title: "B", CreatedAt: t0, UpdatedAt: t0.Add(2 * time.Hour)},
		{ID: "c", UserID: "u1", Title: "C", CreatedAt: t0, UpdatedAt: t0},
		{ID: "z", UserID: "u2", Title: "Z", CreatedAt: t0, UpdatedAt: t0.Add(5 * time.Hour)},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", seed[i].ID, err)
		}
	}

	got, err := ListConversations(ctx, db, "u1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 3 || got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}

	empty, err := ListConversations(ctx, db, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v err=%v", empty, err)
	}
}

func TestGetConversation_OwnershipIsNotFound(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := CreateConversation(ctx, db, &domain.Conversation{ID: "c1", UserID: "u1", Title: "t", CreatedAt: now, UpdatedAt: now}, nil); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := GetConversation(ctx, db, "c1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner: expected ErrNotFound, got %v", err)
	}
	if _, err := GetConversation(ctx, db, "nope", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}
	c, err := GetConversation(ctx, db, "c1", "u1")
	if err != nil || c.Title != "t" {
		t.Fatalf("GetConversation: %+v err=%v", c, err)
	}
}

func TestRenameConversation(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	t0 := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	if err := CreateConversation(ctx, db, &domain.Conversation{ID: "c1", UserID: "u1", Title: "old", CreatedAt: t0, UpdatedAt: t0}, nil); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	t1 := t0.Add(time.Minute)
	if err := RenameConversation(ctx, db, "c1", "u1", "new", t1); err != nil {
		t.Fatalf("RenameConversation: %v", err)
	}
	c, _ := GetConversation(ctx, db, "c1", "u1")
	if c.Title != "new" || !c.UpdatedAt.Equal(t1) {
		t.Fatalf("rename not applied: %+v", c)
	}
	if err := RenameConversation(ctx, db, "c1", "u2", "hijack", t1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign rename: expected ErrNotFound, got %v", err)
	}
	c, _ = GetConversation(ctx, db, "c1", "u1")
	if c.Title != "new" {
		t.Fatalf("foreign rename must not change title, got %q", c.Title)
	}
}

func TestDeleteConversation_RemovesMessages(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &domain.Conversation{ID: "c1", UserID: "u1", Title: "t", CreatedAt: now, UpdatedAt: now}
	msgs := []domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "hi", Timestamp: now}}
	if err := CreateConversation(ctx, db, c, msgs); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if err := DeleteConversation(ctx, db, "c1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: expected ErrNotFound, got %v", err)
	}
	if err := DeleteConversation(ctx, db, "c1", "u1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	var cnt int64
	db.Model(&domain.Message{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("messages should be deleted, count=%d", cnt)
	}
	if err := DeleteConversation(ctx, db, "c1", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
