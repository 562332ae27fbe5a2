// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET    /conversations        (list, weak ETag support)
//   - POST   /conversations        (create, optionally with initial messages)
//   - PATCH  /conversations/{id}   (rename)
//   - DELETE /conversations/{id}   (delete with its messages)
//
// Handlers are transport-thin: they bind input, call the conversation
// service with the session's user id, and translate results into HTTP
// responses (including conditional responses).
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/services"
)

//
// DTOs
//

// AttachmentDTO is an attachment reference as sent by clients.
type AttachmentDTO struct {
	Type string `json:"type" example:"image"`
	URL  string `json:"url" example:"https://res.cloudinary.com/demo/image/upload/v1/study-assistant/x.png"`
	Name string `json:"name" example:"diagram.png"`
}

// MessageDTO is a message as sent by clients. ID and Timestamp are optional;
// the server fills them in when absent.
type MessageDTO struct {
	ID          string          `json:"id,omitempty"`
	Role        string          `json:"role" example:"user"`
	Content     string          `json:"content" example:"Explain photosynthesis in two sentences."`
	Attachments []AttachmentDTO `json:"attachments,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty" format:"date-time"`
}

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// Title defaults to "New Chat" when empty.
	Title    string       `json:"title" example:"Biology revision"`
	Messages []MessageDTO `json:"messages"`
}

// RenameConversationRequest is the JSON payload for renaming a conversation.
type RenameConversationRequest struct {
	Title string `json:"title" example:"Chemistry revision"`
}

// ConversationResponse wraps a created conversation.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
}

// ListConversationsResponse wraps the user's conversations, most recently
// updated first.
type ListConversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

//
// Helpers
//

func (m MessageDTO) input() services.MessageInput {
	in := services.MessageInput{
		ID:      m.ID,
		Role:    m.Role,
		Content: m.Content,
	}
	if m.Timestamp != nil {
		in.Timestamp = *m.Timestamp
	}
	for _, a := range m.Attachments {
		in.Attachments = append(in.Attachments, domain.Attachment{Type: a.Type, URL: a.URL, Name: a.Name})
	}
	return in
}

// checkETag sets a weak ETag for version and answers 304 when the client
// already holds it. It reports whether the response was written.
func checkETag(c *gin.Context, kind, version string) bool {
	etag := `W/"` + kind + ":" + version + `"`
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the current user's conversations, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"conversations:2:1700000000\")
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if v, err := h.convs.ListVersion(ctx, uid); err == nil {
		if checkETag(c, "conversations", v) {
			return
		}
	}

	items, err := h.convs.List(ctx, uid)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description Creates a conversation for the current user. Initial messages are stored atomically with it.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateConversationRequest  false  "Optional title and initial messages"
// @Success     200  {object}  handlers.ConversationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}

	// An empty body means all defaults.
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	msgs := make([]services.MessageInput, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, m.input())
	}

	conv, err := h.convs.Create(c.Request.Context(), uid, req.Title, msgs)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// RenameConversation godoc
// @ID          renameConversation
// @Summary     Rename a conversation
// @Description Updates the title of a conversation owned by the current user.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Conversation ID"  format(uuid)
// @Param       body  body  handlers.RenameConversationRequest  true  "New title"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id} [patch]
func (h *Handlers) RenameConversation(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}

	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.convs.Rename(c.Request.Context(), c.Param("id"), uid, req.Title); err != nil {
		failService(c, err)
		return
	}
	success(c)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Deletes a conversation owned by the current user together with its messages.
// @Tags        Conversations
// @Produce     json
// @Param       id  path  string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}
	if err := h.convs.Delete(c.Request.Context(), c.Param("id"), uid); err != nil {
		failService(c, err)
		return
	}
	success(c)
}
