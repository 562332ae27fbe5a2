// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Ownership: every read and write is scoped by (id, user_id). A conversation
// that exists but belongs to someone else is indistinguishable from one that
// does not exist; both yield gorm.ErrRecordNotFound (exported as ErrNotFound).
//
// Functions:
//
//   - CreateConversation(ctx, db, conv, msgs) -> error
//     Inserts the conversation and its initial messages in one transaction.
//
//   - ListConversations(ctx, db, userID) -> []domain.Conversation, error
//     Returns the user's conversations, most recently updated first.
//
//   - GetConversation(ctx, db, id, userID) -> *domain.Conversation, error
//
//   - RenameConversation(ctx, db, id, userID, title, now) -> error
//
//   - DeleteConversation(ctx, db, id, userID) -> error
//     Removes the conversation and all of its messages in one transaction.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts conv and msgs atomically. Each message gets
// ConversationID set to conv.ID; ids and timestamps must already be filled.
// The conversation is never observable without the messages it was created
// with.
func CreateConversation(ctx context.Context, db *gorm.DB, conv *domain.Conversation, msgs []domain.Message) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for i := range msgs {
			msgs[i].ConversationID = conv.ID
		}
		if err := tx.Create(&msgs).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// ListConversations returns all conversations of userID ordered by
// updated_at descending (id descending breaks ties). Messages are not loaded.
func ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	out := []domain.Conversation{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Order("id desc").
		Find(&out).Error
	return out, err
}

// GetConversation fetches a single conversation by its ID and owner.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RenameConversation sets the title and bumps updated_at. If no rows are
// affected (missing or not owned by userID) it returns ErrNotFound.
func RenameConversation(ctx context.Context, db *gorm.DB, id, userID, title string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the conversation owned by userID together with
// its messages. Returns ErrNotFound when nothing matched.
func DeleteConversation(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&domain.Message{}).Error
	})
}
