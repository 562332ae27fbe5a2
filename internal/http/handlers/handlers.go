package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/http/middleware"
	"github.com/tbourn/study-assistant/internal/services"
)

//
// Service contracts (context-aware)
//

// CredentialService registers and verifies accounts.
type CredentialService interface {
	Register(ctx context.Context, email, password string) (*domain.User, error)
	Verify(ctx context.Context, email, password string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// SessionService issues, resolves and revokes opaque session tokens.
type SessionService interface {
	Issue(ctx context.Context, userID string) (string, time.Time, error)
	Resolve(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// ConversationService is the conversation and message append protocol.
// Every operation that takes a conversation id reports a foreign or missing
// conversation as services.ErrConversationNotFound.
type ConversationService interface {
	List(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	ListVersion(ctx context.Context, userID string) (string, error)
	Create(ctx context.Context, userID, title string, msgs []services.MessageInput) (*domain.Conversation, error)
	Messages(ctx context.Context, conversationID, userID string) ([]domain.Message, error)
	MessagesVersion(ctx context.Context, conversationID, userID string) (string, error)
	Append(ctx context.Context, conversationID, userID string, in services.MessageInput, idemKey string) (*domain.Message, bool, error)
	Rename(ctx context.Context, conversationID, userID, title string) error
	Delete(ctx context.Context, conversationID, userID string) error
}

// ReplyService generates the assistant turn for a conversation.
type ReplyService interface {
	Reply(ctx context.Context, conversationID, userID, idemKey string) (*domain.Message, bool, error)
}

// AttachmentService stores uploaded files.
type AttachmentService interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (domain.Attachment, error)
}

//
// Handler wiring
//

// Deps are the services and transport settings the handlers need.
type Deps struct {
	Credentials   CredentialService
	Sessions      SessionService
	Conversations ConversationService
	Replies       ReplyService
	Attachments   AttachmentService

	// SecureCookie marks the session cookie Secure (production only).
	SecureCookie bool
	// MaxUploadBytes caps a single uploaded file.
	MaxUploadBytes int64
}

// Handlers groups HTTP endpoints for authentication, conversations,
// messages, replies, and uploads.
type Handlers struct {
	creds    CredentialService
	sessions SessionService
	convs    ConversationService
	replies  ReplyService
	attach   AttachmentService

	secureCookie   bool
	maxUploadBytes int64
}

// New constructs a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		creds:          d.Credentials,
		sessions:       d.Sessions,
		convs:          d.Conversations,
		replies:        d.Replies,
		attach:         d.Attachments,
		secureCookie:   d.SecureCookie,
		maxUploadBytes: d.MaxUploadBytes,
	}
}

// currentUser returns the id set by middleware.RequireSession. Handlers
// mounted behind it always find one; a missing id answers 401.
func currentUser(c *gin.Context) (string, bool) {
	uid, err := middleware.UserID(c)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}
