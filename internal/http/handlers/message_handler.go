// Message HTTP handlers.
//
// This file exposes REST endpoints for the messages of a conversation:
//   - GET  /conversations/{id}/messages   (list in append order, weak ETag)
//   - POST /conversations/{id}/messages   (append one message)
//   - POST /conversations/{id}/reply      (generate and append the assistant turn)
//
// Idempotency:
// If the client supplies an Idempotency-Key header on either POST and a
// previous successful result exists for (user, conversation, key), the
// handler returns that recorded message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/http/middleware"
)

//
// DTOs
//

// PostMessageResponse wraps a single stored message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a conversation's messages in append order.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

//
// Helpers
//

func markReplay(c *gin.Context, replayed bool) {
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
}

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns every message of the conversation in append order. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Param       id             path    string  true   "Conversation ID"  format(uuid)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("id")

	// The version call checks ownership, so a foreign id never gets an ETag.
	if v, err := h.convs.MessagesVersion(ctx, convID, uid); err == nil {
		if checkETag(c, "messages:"+convID, v) {
			return
		}
	}

	items, err := h.convs.Messages(ctx, convID, uid)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Append a message
// @Description Appends one message to the conversation and bumps its updated_at.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true   "Conversation ID"  format(uuid)
// @Param       body             body    handlers.MessageDTO  true  "Message payload"
// @Success     200  {object}  handlers.PostMessageResponse
// @Header      200  {string}  Idempotency-Replayed  "true when an earlier result was returned"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}

	var req MessageDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	m, replayed, err := h.convs.Append(c.Request.Context(), c.Param("id"), uid, req.input(), idemKey)
	if err != nil {
		failService(c, err)
		return
	}
	markReplay(c, replayed)
	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// PostReply godoc
// @ID          postReply
// @Summary     Generate the assistant reply
// @Description Sends the trailing user message, the earlier history and its first attachment to the model, then appends the reply as an assistant message.
// @Description Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true   "Conversation ID"  format(uuid)
// @Success     200  {object}  handlers.PostMessageResponse
// @Header      200  {string}  Idempotency-Replayed  "true when an earlier result was returned"
// @Failure     400  {object}  handlers.ErrorResponse  "Conversation does not end with a user message"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Generation failed"
// @Router      /conversations/{id}/reply [post]
func (h *Handlers) PostReply(c *gin.Context) {
	uid, authed := currentUser(c)
	if !authed {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	m, replayed, err := h.replies.Reply(c.Request.Context(), c.Param("id"), uid, idemKey)
	if err != nil {
		failService(c, err)
		return
	}
	markReplay(c, replayed)
	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}
