// Package domain defines the persistence models for users, sessions,
// conversations, and messages. These types are mapped with GORM and form the
// core data layer of the assistant backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SessionLifetime is the fixed validity window of a session token.
const SessionLifetime = 30 * 24 * time.Hour

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New Chat"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment kinds.
const (
	AttachmentDocument = "document"
	AttachmentImage    = "image"
)

// User is a registered account. The password hash never leaves the
// credential layer: it is excluded from JSON.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: unique, stored as given (trimmed), compared case-sensitively.
//   - PasswordHash: bcrypt hash.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(100);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Session is a bearer credential. Only the SHA-256 hash of the token is
// stored; the raw token exists solely in the client's cookie.
//
// A session is valid iff now < ExpiresAt. Expired rows are never swept:
// every lookup filters on expires_at instead.
type Session struct {
	TokenHash string    `gorm:"type:char(64);primaryKey"`
	UserID    string    `gorm:"type:char(36);not null;index:idx_sessions_user"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Valid reports whether the session is still usable at now.
func (s Session) Valid(now time.Time) bool { return now.Before(s.ExpiresAt) }

// Conversation is an ordered chat thread owned by a single user. Every read
// and write is scoped by (id, user_id).
type Conversation struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index:idx_user_conversations,priority:1"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_user_conversations,priority:2"`

	// Messages is populated only on create (empty, never null, when there
	// are none); list views never load it.
	Messages []Message `json:"messages" gorm:"-"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// ConversationSummary is the list view of a conversation (no messages).
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary projects the conversation to its list view.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

// Attachment references externally stored content. The URL is opaque.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Message is one turn of a conversation. Messages are append-only; Seq is
// the insertion order and the only ordering used on reads.
//
// Fields:
//   - Seq: auto-increment row id; never exposed.
//   - ID: unique within the conversation (client-supplied or generated).
//   - ConversationID: owning conversation; cascade-deleted with it.
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Attachments: ordered JSON list.
//   - Timestamp: creation time captured at append.
type Message struct {
	Seq            uint64                          `json:"-"           gorm:"primaryKey;autoIncrement"`
	ID             string                          `json:"id"          gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_message,priority:2"`
	ConversationID string                          `json:"-"           gorm:"type:char(36);not null;uniqueIndex:ux_conversation_message,priority:1"`
	Role           string                          `json:"role"        gorm:"type:varchar(16);not null;check:chk_messages_role,role IN ('user','assistant')"`
	Content        string                          `json:"content"     gorm:"type:text;not null"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments,omitempty"`
	Timestamp      time.Time                       `json:"timestamp"   gorm:"not null"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
