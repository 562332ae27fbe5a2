// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
)

// AppendMessage adds m to the conversation identified by (conversationID,
// userID) and bumps the conversation's updated_at to now, both in one
// transaction. The ownership check and the insert are atomic: a missing or
// foreign conversation yields ErrNotFound and nothing is written.
func AppendMessage(ctx context.Context, db *gorm.DB, conversationID, userID string, m *domain.Message, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Conversation{}).
			Where("id = ? AND user_id = ?", conversationID, userID).
			Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		m.ConversationID = conversationID
		if err := tx.Create(m).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in insertion order.
// Ownership must be checked by the caller.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by its id within a conversation.
func GetMessage(ctx context.Context, db *gorm.DB, conversationID, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND id = ?", conversationID, id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
