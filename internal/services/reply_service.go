package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/llm"
)

// ReplyService asks the generator to answer the latest user message of a
// conversation and appends the answer as an assistant message.
type ReplyService struct {
	Conv *ConversationService
	Gen  llm.Generator
}

// NewReplyService constructs a ReplyService.
func NewReplyService(conv *ConversationService, gen llm.Generator) *ReplyService {
	return &ReplyService{Conv: conv, Gen: gen}
}

// Reply generates and stores the assistant's answer to the last message of
// the conversation, which must be a user message. The prompt is that
// message's content, the history is every message before it and the
// attachment is its first attachment, if any.
//
// With a non-empty idemKey that was already used for this conversation the
// stored reply is returned with replayed=true and the generator is not
// called.
func (s *ReplyService) Reply(ctx context.Context, conversationID, userID, idemKey string) (msg *domain.Message, replayed bool, err error) {
	ctx, span := otel.Tracer("services/ReplyService").Start(ctx, "Reply", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if prev, ok := s.Conv.replay(ctx, conversationID, userID, idemKey); ok {
		return prev, true, nil
	}

	msgs, err := s.Conv.Messages(ctx, conversationID, userID)
	if err != nil {
		return nil, false, err
	}
	if len(msgs) == 0 {
		return nil, false, fmt.Errorf("%w: conversation has no messages", ErrInvalidInput)
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleUser {
		return nil, false, fmt.Errorf("%w: last message is not from the user", ErrInvalidInput)
	}

	var att *domain.Attachment
	if len(last.Attachments) > 0 {
		a := last.Attachments[0]
		att = &a
	}
	span.SetAttributes(attribute.Int("history.len", len(msgs)-1))

	text, err := s.Gen.Generate(ctx, last.Content, llm.TurnsFromMessages(msgs[:len(msgs)-1]), att)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, false, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	out, replayed, err := s.Conv.Append(ctx, conversationID, userID, MessageInput{
		Role:    domain.RoleAssistant,
		Content: text,
	}, idemKey)
	if errors.Is(err, ErrInvalidInput) {
		return nil, false, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return out, replayed, err
}
