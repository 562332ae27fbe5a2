// Package services – ConversationService
//
// This file implements the conversation store and the message-append
// protocol. Every operation is scoped by (conversation id, owner id): a
// conversation owned by another user is reported exactly like a missing one
// (ErrConversationNotFound), so existence never leaks across users.
//
// Appends are single transactions that insert the message and bump the
// conversation's updated_at together. A conversation created with initial
// messages is inserted with them atomically and is never observably empty.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the conversation and user identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/repo"
	"github.com/tbourn/study-assistant/internal/storage"
)

// TitleMaxLen caps stored titles by rune length (matches the column size).
const TitleMaxLen = 255

// maxMessageIDLen matches the messages.id column size.
const maxMessageIDLen = 64

// MessageInput is a message as submitted by a caller. ID and Timestamp are
// optional and filled in when unset.
type MessageInput struct {
	ID          string
	Role        string
	Content     string
	Attachments []domain.Attachment
	Timestamp   time.Time
}

// ConversationService provides conversation and message operations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Now is the clock; tests inject a fixed one.
	Now func() time.Time
	// IdempotencyTTL bounds how long an Idempotency-Key is remembered.
	IdempotencyTTL time.Duration
	// AttachmentPrefixes, when set, are the only URL prefixes an attachment
	// may point under (the attachment store's public URLs).
	AttachmentPrefixes []string
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, idemTTL time.Duration) *ConversationService {
	return &ConversationService{DB: db, Now: time.Now, IdempotencyTTL: idemTTL}
}

func tracer() trace.Tracer { return otel.Tracer("services/ConversationService") }

// List returns the user's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	ctx, span := tracer().Start(ctx, "List", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rows, err := repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConversationSummary, 0, len(rows))
	for _, c := range rows {
		out = append(out, c.Summary())
	}
	return out, nil
}

// ListVersion returns a cheap fingerprint of the user's conversation list,
// suitable for a weak ETag.
func (s *ConversationService) ListVersion(ctx context.Context, userID string) (string, error) {
	count, maxAt, err := repo.ConversationsStats(ctx, s.DB, userID)
	if err != nil {
		return "", err
	}
	var ts int64
	if maxAt != nil {
		ts = maxAt.UnixNano()
	}
	return fmt.Sprintf("%d:%d", count, ts), nil
}

// Create starts a conversation for userID. A blank title becomes
// "New Chat". Initial messages are validated and stored in the same
// transaction as the conversation row. Two calls create two conversations.
func (s *ConversationService) Create(ctx context.Context, userID, title string, msgs []MessageInput) (*domain.Conversation, error) {
	ctx, span := tracer().Start(ctx, "Create", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("messages.count", len(msgs)),
	))
	defer span.End()

	title = clipTitle(normalizeTitle(title))
	if title == "" {
		title = domain.DefaultConversationTitle
	}

	now := s.now()
	rows := make([]domain.Message, 0, len(msgs))
	for _, in := range msgs {
		m, err := s.buildMessage(in, now)
		if err != nil {
			return nil, err
		}
		rows = append(rows, m)
	}

	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateConversation(ctx, s.DB, conv, rows); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: duplicate message id", ErrInvalidInput)
		}
		return nil, err
	}
	conv.Messages = rows
	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	return conv, nil
}

// CreateWithFirstMessage creates a conversation that already contains msg,
// titled after the first line of its content.
func (s *ConversationService) CreateWithFirstMessage(ctx context.Context, userID string, msg MessageInput) (*domain.Conversation, error) {
	return s.Create(ctx, userID, domain.DeriveTitle(msg.Content), []MessageInput{msg})
}

// Messages returns a conversation's messages in append order.
func (s *ConversationService) Messages(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	ctx, span := tracer().Start(ctx, "Messages", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if err := s.ensureOwned(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return repo.ListMessages(ctx, s.DB, conversationID)
}

// MessagesVersion returns a fingerprint of a conversation's message list.
// Ownership is checked first so the fingerprint never leaks existence.
func (s *ConversationService) MessagesVersion(ctx context.Context, conversationID, userID string) (string, error) {
	if err := s.ensureOwned(ctx, conversationID, userID); err != nil {
		return "", err
	}
	count, seq, err := repo.MessagesStats(ctx, s.DB, conversationID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", count, seq), nil
}

// Append adds a message to the end of a conversation and bumps its
// updated_at. When idemKey is non-empty and was already used for this
// conversation within the TTL, the previously stored message is returned
// with replayed=true and nothing is appended.
func (s *ConversationService) Append(ctx context.Context, conversationID, userID string, in MessageInput, idemKey string) (msg *domain.Message, replayed bool, err error) {
	ctx, span := tracer().Start(ctx, "Append", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", userID),
		attribute.String("message.role", in.Role),
	))
	defer span.End()

	if prev, ok := s.replay(ctx, conversationID, userID, idemKey); ok {
		return prev, true, nil
	}

	now := s.now()
	m, err := s.buildMessage(in, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.appendRow(ctx, conversationID, userID, &m, now); err != nil {
		return nil, false, err
	}
	s.remember(ctx, conversationID, userID, idemKey, m.ID)
	return &m, false, nil
}

// Rename sets a new title. Blank titles are rejected; long ones are clipped.
func (s *ConversationService) Rename(ctx context.Context, conversationID, userID, title string) error {
	ctx, span := tracer().Start(ctx, "Rename", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	title = clipTitle(normalizeTitle(title))
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	err := repo.RenameConversation(ctx, s.DB, conversationID, userID, title, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// Delete removes a conversation and all of its messages.
func (s *ConversationService) Delete(ctx context.Context, conversationID, userID string) error {
	ctx, span := tracer().Start(ctx, "Delete", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	err := repo.DeleteConversation(ctx, s.DB, conversationID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// appendRow runs the append transaction and maps repo errors.
func (s *ConversationService) appendRow(ctx context.Context, conversationID, userID string, m *domain.Message, now time.Time) error {
	err := repo.AppendMessage(ctx, s.DB, conversationID, userID, m, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrConversationNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: message id already exists in conversation", ErrInvalidInput)
	}
	return err
}

func (s *ConversationService) ensureOwned(ctx context.Context, conversationID, userID string) error {
	_, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// replay looks up a previous result for idemKey. Lookup failures are treated
// as a miss so a broken idempotency table never blocks appends.
func (s *ConversationService) replay(ctx context.Context, conversationID, userID, idemKey string) (*domain.Message, bool) {
	if idemKey == "" {
		return nil, false
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, conversationID, idemKey, s.now())
	if err != nil {
		return nil, false
	}
	m, err := repo.GetMessage(ctx, s.DB, conversationID, rec.MessageID)
	if err != nil {
		return nil, false
	}
	return m, true
}

func (s *ConversationService) remember(ctx context.Context, conversationID, userID, idemKey, messageID string) {
	if idemKey == "" || s.IdempotencyTTL <= 0 {
		return
	}
	_, _ = repo.SaveIdempotency(ctx, s.DB, userID, conversationID, idemKey, messageID, s.now(), s.IdempotencyTTL)
}

func (s *ConversationService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// buildMessage validates in and fills id and timestamp when unset.
func (s *ConversationService) buildMessage(in MessageInput, now time.Time) (domain.Message, error) {
	role := strings.TrimSpace(in.Role)
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return domain.Message{}, fmt.Errorf("%w: role must be %q or %q", ErrInvalidInput, domain.RoleUser, domain.RoleAssistant)
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return domain.Message{}, fmt.Errorf("%w: content or attachments required", ErrInvalidInput)
	}
	for _, a := range in.Attachments {
		if a.Type != domain.AttachmentDocument && a.Type != domain.AttachmentImage {
			return domain.Message{}, fmt.Errorf("%w: attachment type must be %q or %q", ErrInvalidInput, domain.AttachmentDocument, domain.AttachmentImage)
		}
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Name) == "" {
			return domain.Message{}, fmt.Errorf("%w: attachment url and name are required", ErrInvalidInput)
		}
		if len(s.AttachmentPrefixes) > 0 && !storage.URLAllowed(a.URL, s.AttachmentPrefixes) {
			return domain.Message{}, fmt.Errorf("%w: attachment url is not served by the attachment store", ErrInvalidInput)
		}
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxMessageIDLen {
		return domain.Message{}, fmt.Errorf("%w: message id too long", ErrInvalidInput)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}

	m := domain.Message{
		ID:        id,
		Role:      role,
		Content:   in.Content,
		Timestamp: ts.UTC(),
	}
	if len(in.Attachments) > 0 {
		m.Attachments = append([]domain.Attachment(nil), in.Attachments...)
	}
	return m, nil
}

// clipTitle truncates a title to TitleMaxLen runes.
func clipTitle(title string) string {
	if utf8.RuneCountInString(title) > TitleMaxLen {
		return string([]rune(title)[:TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
