package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/study-assistant/internal/domain"
)

func TestConversationsStats_CountError_NoTable(t *testing.T) {
	db := newRepoDB(t, false)
	if _, _, err := ConversationsStats(context.Background(), db, "u1"); err == nil {
		t.Fatalf("expected error due to missing conversations table")
	}
}

func TestConversationsStats(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()

	count, maxAt, err := ConversationsStats(ctx, db, "u1")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", count, maxAt, err)
	}

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b"} {
		at := t0.Add(time.Duration(i) * time.Hour)
		if err := db.Create(&domain.Conversation{ID: id, UserID: "u1", Title: id, CreatedAt: at, UpdatedAt: at}).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	count, maxAt, err = ConversationsStats(ctx, db, "u1")
	if err != nil || count != 2 || maxAt == nil || !maxAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected stats: (%d, %v, %v)", count, maxAt, err)
	}
}

func TestMessagesStats(t *testing.T) {
	db := newRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	count, seq, err := MessagesStats(ctx, db, "c1")
	if err != nil || count != 0 || seq != 0 {
		t.Fatalf("expected (0, 0, nil), got (%d, %d, %v)", count, seq, err)
	}

	if err := CreateConversation(ctx, db, &domain.Conversation{ID: "c1", UserID: "u1", Title: "t", CreatedAt: now, UpdatedAt: now}, nil); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	m := &domain.Message{ID: "m1", Role: domain.RoleUser, Content: "x", Timestamp: now}
	if err := AppendMessage(ctx, db, "c1", "u1", m, now); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	count, seq, err = MessagesStats(ctx, db, "c1")
	if err != nil || count != 1 || seq != m.Seq {
		t.Fatalf("unexpected stats: (%d, %d, %v); want seq %d", count, seq, err, m.Seq)
	}
}
