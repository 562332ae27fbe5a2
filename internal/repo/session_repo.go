package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
)

// CreateSession persists a session keyed by the hash of its token.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	return db.WithContext(ctx).Create(s).Error
}

// GetActiveSession returns the session for tokenHash when it is still valid
// at now. Missing and expired sessions both yield ErrNotFound; expired rows
// are left in place.
func GetActiveSession(ctx context.Context, db *gorm.DB, tokenHash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", tokenHash, now).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes the session for tokenHash. Deleting an unknown
// session is not an error.
func DeleteSession(ctx context.Context, db *gorm.DB, tokenHash string) error {
	return db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Delete(&domain.Session{}).Error
}
