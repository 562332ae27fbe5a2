// Authentication HTTP handlers.
//
// This file exposes the session lifecycle endpoints:
//   - POST /auth/signup   (register, then sign in)
//   - POST /auth/login    (verify credentials, issue a session)
//   - POST /auth/logout   (revoke the current session, clear the cookie)
//   - GET  /auth/session  (report the signed-in user, or null)
//
// The session token only ever travels in the HttpOnly "session" cookie.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/http/middleware"
	"github.com/tbourn/study-assistant/internal/observability"
	"github.com/tbourn/study-assistant/internal/services"
)

//
// DTOs
//

// CredentialsRequest is the JSON payload for signup and login.
type CredentialsRequest struct {
	Email    string `json:"email" example:"ada@example.com"`
	Password string `json:"password" example:"correct horse"`
}

// UserResponse wraps the public user record. User is null on GET
// /auth/session when nobody is signed in.
type UserResponse struct {
	User *domain.User `json:"user"`
}

// MessageResponse carries a human-readable acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"Logged out successfully"`
}

//
// Helpers
//

// setSessionCookie writes the session cookie: HttpOnly, SameSite=Lax,
// Path "/", Max-Age 30 days, Secure in production.
func (h *Handlers) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, token, int(domain.SessionLifetime.Seconds()), "/", "", h.secureCookie, true)
}

func (h *Handlers) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", h.secureCookie, true)
}

// signIn issues a session for u and answers with status and the user.
func (h *Handlers) signIn(c *gin.Context, status int, u *domain.User) {
	token, _, err := h.sessions.Issue(c.Request.Context(), u.ID)
	if err != nil {
		failService(c, err)
		return
	}
	h.setSessionCookie(c, token)
	ok(c, status, UserResponse{User: u})
}

//
// Handlers
//

// Signup godoc
// @ID          signup
// @Summary     Create an account
// @Description Registers a new account and signs it in. Passwords need at least 6 characters.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CredentialsRequest  true  "Email and password"
// @Success     201  {object}  handlers.UserResponse
// @Header      201  {string}  Set-Cookie  "session=<token>; HttpOnly; SameSite=Lax"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid input or user already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/signup [post]
func (h *Handlers) Signup(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	u, err := h.creds.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		observability.RecordAuth("signup", "rejected")
		failService(c, err)
		return
	}
	observability.RecordAuth("signup", "ok")
	h.signIn(c, http.StatusCreated, u)
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Description Verifies credentials and issues a 30-day session cookie. An unknown email and a wrong password fail identically.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CredentialsRequest  true  "Email and password"
// @Success     200  {object}  handlers.UserResponse
// @Header      200  {string}  Set-Cookie  "session=<token>; HttpOnly; SameSite=Lax"
// @Failure     400  {object}  handlers.ErrorResponse  "Email and password are required"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	u, err := h.creds.Verify(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		observability.RecordAuth("login", outcomeOf(err))
		failService(c, err)
		return
	}
	observability.RecordAuth("login", "ok")
	h.signIn(c, http.StatusOK, u)
}

// Logout godoc
// @ID          logout
// @Summary     Sign out
// @Description Revokes the current session, if any, and clears the cookie. Fails only when the session store is unavailable.
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  handlers.MessageResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Session store unavailable"
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c); token != "" {
		if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("session revoke failed")
		}
	}
	observability.RecordAuth("logout", "ok")
	h.clearSessionCookie(c)
	ok(c, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Session godoc
// @ID          session
// @Summary     Current user
// @Description Returns the signed-in user, or {"user": null} when the session is missing or expired.
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  handlers.UserResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Session store unavailable"
// @Router      /auth/session [get]
func (h *Handlers) Session(c *gin.Context) {
	uid, err := middleware.UserID(c)
	if err != nil {
		ok(c, http.StatusOK, UserResponse{})
		return
	}
	u, err := h.creds.Get(c.Request.Context(), uid)
	if err != nil {
		// A session whose user vanished reads as signed out.
		ok(c, http.StatusOK, UserResponse{})
		return
	}
	ok(c, http.StatusOK, UserResponse{User: u})
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, services.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
