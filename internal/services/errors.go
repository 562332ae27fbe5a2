// Package services defines the business logic for accounts, sessions,
// conversations, generated replies, and attachment uploads.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrInvalidInput is returned when a request is missing required fields
	// or carries values outside the allowed set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates a missing, unknown, or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so callers cannot tell which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateEmail is returned when registering an email that is taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrGenerationFailed wraps any failure of the response generator,
	// including timeouts and empty replies.
	ErrGenerationFailed = errors.New("failed to generate response")

	// ErrUploadFailed wraps any failure of the attachment store.
	ErrUploadFailed = errors.New("upload failed")
)
