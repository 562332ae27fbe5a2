// Package client is a Go client for the study-assistant HTTP API.
//
// A Session carries the cookie jar and the signed-in user. The user is
// populated by Signup, Login and CheckAuth, and cleared by Logout or by any
// request the server rejects as unauthorized.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/study-assistant/internal/domain"
)

const (
	headerIdempotencyKey      = "Idempotency-Key"
	headerIdempotencyReplayed = "Idempotency-Replayed"

	// DefaultRetryDelay is the pause before MessagesAfterCreate reads again.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Sentinels matched by errors.Is against *APIError.
var (
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrNotFound     = errors.New("client: not found")
	ErrBadRequest   = errors.New("client: bad request")
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: http %d", e.Status)
	}
	return fmt.Sprintf("client: http %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps the status onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// MessageInput is a message to send. ID is assigned when empty and doubles
// as the idempotency key of the append, so resending the same input is safe.
type MessageInput struct {
	ID          string              `json:"id,omitempty"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient replaces the underlying HTTP client. Its Jar is replaced
// with the session's own.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Session) { s.http = hc }
}

// WithRetryDelay sets the pause used by MessagesAfterCreate.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Session) { s.retryDelay = d }
}

// WithLogger sets the logger used for retries and failed logouts.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is the explicit session context of one signed-in client.
type Session struct {
	base       string
	http       *http.Client
	retryDelay time.Duration
	log        zerolog.Logger

	mu   sync.RWMutex
	user *domain.User
}

// New returns a signed-out session against baseURL, which includes the API
// prefix (for example "http://localhost:8080/api").
func New(baseURL string, opts ...Option) (*Session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		base:       strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 60 * time.Second},
		retryDelay: DefaultRetryDelay,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http.Jar = jar
	return s, nil
}

// User returns the signed-in user, or nil.
func (s *Session) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) setUser(u *domain.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

//
// Auth
//

type userEnvelope struct {
	User *domain.User `json:"user"`
}

// Signup registers an account and signs in.
func (s *Session) Signup(ctx context.Context, email, password string) (*domain.User, error) {
	return s.signIn(ctx, "/auth/signup", email, password)
}

// Login signs in with existing credentials.
func (s *Session) Login(ctx context.Context, email, password string) (*domain.User, error) {
	return s.signIn(ctx, "/auth/login", email, password)
}

func (s *Session) signIn(ctx context.Context, path, email, password string) (*domain.User, error) {
	var out userEnvelope
	body := map[string]string{"email": email, "password": password}
	if _, err := s.do(ctx, http.MethodPost, path, body, nil, &out); err != nil {
		return nil, err
	}
	s.setUser(out.User)
	return out.User, nil
}

// CheckAuth asks the server who the cookie belongs to and records the
// answer. A nil user with a nil error means signed out.
func (s *Session) CheckAuth(ctx context.Context) (*domain.User, error) {
	var out userEnvelope
	if _, err := s.do(ctx, http.MethodGet, "/auth/session", nil, nil, &out); err != nil {
		return nil, err
	}
	s.setUser(out.User)
	return out.User, nil
}

// Logout revokes the server session. The local user is cleared even when
// the request fails.
func (s *Session) Logout(ctx context.Context) error {
	defer s.setUser(nil)
	if _, err := s.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil); err != nil {
		s.log.Warn().Err(err).Msg("logout request failed")
		return err
	}
	return nil
}

//
// Conversations
//

// Conversations lists the user's conversations, most recently updated first.
func (s *Session) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var out struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	if _, err := s.do(ctx, http.MethodGet, "/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Create starts a conversation with an optional title and initial messages.
func (s *Session) Create(ctx context.Context, title string, msgs ...MessageInput) (*domain.Conversation, error) {
	for i := range msgs {
		msgs[i] = withID(msgs[i])
	}
	var out struct {
		Conversation *domain.Conversation `json:"conversation"`
	}
	body := map[string]any{"title": title, "messages": msgs}
	if _, err := s.do(ctx, http.MethodPost, "/conversations", body, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversation, nil
}

// CreateWithFirstMessage starts a conversation containing msg, titled from
// its content.
func (s *Session) CreateWithFirstMessage(ctx context.Context, msg MessageInput) (*domain.Conversation, error) {
	return s.Create(ctx, domain.DeriveTitle(msg.Content), msg)
}

// AppendToExisting appends msg to an existing conversation. The second
// result reports whether the server replayed an earlier append of the same
// message id.
func (s *Session) AppendToExisting(ctx context.Context, conversationID string, msg MessageInput) (*domain.Message, bool, error) {
	msg = withID(msg)
	var out struct {
		Message *domain.Message `json:"message"`
	}
	hdr := http.Header{headerIdempotencyKey: {msg.ID}}
	res, err := s.do(ctx, http.MethodPost, conversationPath(conversationID, "messages"), msg, hdr, &out)
	if err != nil {
		return nil, false, err
	}
	return out.Message, res.Header.Get(headerIdempotencyReplayed) == "true", nil
}

// Send routes msg by whether a conversation is open: with an empty
// conversationID it creates one, otherwise it appends. It returns the
// conversation id the message landed in.
func (s *Session) Send(ctx context.Context, conversationID string, msg MessageInput) (string, error) {
	if conversationID == "" {
		conv, err := s.CreateWithFirstMessage(ctx, msg)
		if err != nil {
			return "", err
		}
		return conv.ID, nil
	}
	if _, _, err := s.AppendToExisting(ctx, conversationID, msg); err != nil {
		return "", err
	}
	return conversationID, nil
}

// Messages returns the conversation's messages in append order.
func (s *Session) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if _, err := s.do(ctx, http.MethodGet, conversationPath(conversationID, "messages"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

var errEmpty = errors.New("client: empty message list")

// MessagesAfterCreate reads a freshly created conversation. An empty list is
// read once more after the retry delay; a second empty list is returned
// as is.
func (s *Session) MessagesAfterCreate(ctx context.Context, conversationID string) ([]domain.Message, error) {
	attempt := 0
	msgs, err := backoff.Retry(ctx, func() ([]domain.Message, error) {
		attempt++
		msgs, err := s.Messages(ctx, conversationID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(msgs) == 0 {
			if attempt == 1 {
				s.log.Debug().Str("conversation_id", conversationID).Msg("empty message list, retrying")
			}
			return msgs, errEmpty
		}
		return msgs, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(2),
	)
	if errors.Is(err, errEmpty) {
		return []domain.Message{}, nil
	}
	return msgs, err
}

// Reply asks the server to generate the assistant's answer to the last user
// message. A non-empty idempotencyKey makes repeats return the same reply.
func (s *Session) Reply(ctx context.Context, conversationID, idempotencyKey string) (*domain.Message, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{headerIdempotencyKey: {idempotencyKey}}
	}
	var out struct {
		Message *domain.Message `json:"message"`
	}
	if _, err := s.do(ctx, http.MethodPost, conversationPath(conversationID, "reply"), nil, hdr, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// Rename sets a conversation's title.
func (s *Session) Rename(ctx context.Context, conversationID, title string) error {
	_, err := s.do(ctx, http.MethodPatch, conversationPath(conversationID, ""), map[string]string{"title": title}, nil, nil)
	return err
}

// Delete removes a conversation and its messages.
func (s *Session) Delete(ctx context.Context, conversationID string) error {
	_, err := s.do(ctx, http.MethodDelete, conversationPath(conversationID, ""), nil, nil, nil)
	return err
}

// Upload stores r as an attachment and returns a reference ready to put on
// a message.
func (s *Session) Upload(ctx context.Context, name, contentType string, r io.Reader) (*domain.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("client: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out domain.Attachment
	if _, err := s.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

//
// Transport
//

func (s *Session) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	return s.send(req, out)
}

func (s *Session) send(req *http.Request, out any) (*http.Response, error) {
	res, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		apiErr := &APIError{Status: res.StatusCode}
		_ = json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(apiErr)
		if res.StatusCode == http.StatusUnauthorized {
			s.setUser(nil)
		}
		return res, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res, fmt.Errorf("client: decode %s %s: %w", req.Method, req.URL.Path, err)
		}
	}
	return res, nil
}

func conversationPath(id, sub string) string {
	p := "/conversations/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withID(m MessageInput) MessageInput {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m
}
