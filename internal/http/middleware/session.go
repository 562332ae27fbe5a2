// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the session cookie into an authenticated user before any
// business logic runs. RequireSession rejects requests without a valid
// session; OptionalSession only annotates the context when one is present.
// Both store the user id under "userID" and the raw token under
// "sessionToken", and enrich the request-scoped logger with user_id.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/services"
)

// SessionCookieName is the cookie that carries the opaque session token.
const SessionCookieName = "session"

const (
	ctxKeyUserID       = "userID"
	ctxKeySessionToken = "sessionToken"
)

// SessionResolver maps a raw session token to its user id. Missing, unknown
// and expired tokens yield services.ErrUnauthorized; any other error means
// the session store failed and is answered with 500, not 401, so a store
// outage never looks like a logout to the client.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// ErrNoSession is reported by UserID when no session was resolved.
var ErrNoSession = errors.New("no session")

// RequireSession aborts with 401 unless the session cookie resolves to a user.
func RequireSession(res SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := resolveSession(c, res)
		if err != nil {
			abortSessionStore(c, err)
			return
		}
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		c.Next()
	}
}

// OptionalSession resolves the session cookie when present. It aborts only
// when the session store fails.
func OptionalSession(res SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveSession(c, res); err != nil {
			abortSessionStore(c, err)
			return
		}
		c.Next()
	}
}

// resolveSession reports whether the cookie resolved to a user. err is set
// only for store failures.
func resolveSession(c *gin.Context, res SessionResolver) (bool, error) {
	token, err := c.Cookie(SessionCookieName)
	if err != nil || token == "" {
		return false, nil
	}
	c.Set(ctxKeySessionToken, token)

	uid, err := res.Resolve(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			return false, nil
		}
		return false, err
	}
	if uid == "" {
		return false, nil
	}
	c.Set(ctxKeyUserID, uid)

	l := LoggerFrom(c).With().Str("user_id", uid).Logger()
	c.Set(ctxKeyLogger, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	return true, nil
}

func abortSessionStore(c *gin.Context, err error) {
	LoggerFrom(c).Error().Err(err).Msg("session lookup failed")
	abortJSON(c, http.StatusInternalServerError, "internal_error", "internal error")
}

// abortJSON writes the API error envelope.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}

// UserID returns the authenticated user id stored by the session middleware.
func UserID(c *gin.Context) (string, error) {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", ErrNoSession
}

// SessionToken returns the raw session cookie value seen on this request,
// whether or not it resolved to a user.
func SessionToken(c *gin.Context) string {
	v, _ := c.Get(ctxKeySessionToken)
	return asString(v)
}
