package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/http/middleware"
	"github.com/tbourn/study-assistant/internal/llm"
	"github.com/tbourn/study-assistant/internal/repo"
	"github.com/tbourn/study-assistant/internal/services"
	"github.com/tbourn/study-assistant/internal/storage"
)

// ---------- test environment ----------

type testEnv struct {
	r        *gin.Engine
	creds    *services.CredentialService
	sessions *services.SessionService
	convs    *services.ConversationService
	dir      string

	// reply is what the fake generator answers; genErr makes it fail.
	reply   string
	genErr  error
	genHits int
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := repo.OpenSQLite(filepath.Join(dir, "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	env := &testEnv{dir: filepath.Join(dir, "files"), reply: "generated answer"}

	env.creds = services.NewCredentialService(db)
	env.creds.Cost = bcrypt.MinCost
	env.sessions = services.NewSessionService(db, 0)
	env.convs = services.NewConversationService(db, time.Hour)

	gen := llm.GeneratorFunc(func(context.Context, string, []llm.Turn, *domain.Attachment) (string, error) {
		env.genHits++
		return env.reply, env.genErr
	})
	local, err := storage.NewLocal(env.dir, "http://files.test/files")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	h := New(Deps{
		Credentials:    env.creds,
		Sessions:       env.sessions,
		Conversations:  env.convs,
		Replies:        services.NewReplyService(env.convs, gen),
		Attachments:    services.NewAttachmentService(local, time.Second),
		MaxUploadBytes: 1 << 10,
	})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ContextLogger())

	auth := r.Group("/auth", middleware.OptionalSession(env.sessions))
	auth.POST("/signup", h.Signup)
	auth.POST("/login", h.Login)
	auth.POST("/logout", h.Logout)
	auth.GET("/session", h.Session)

	api := r.Group("", middleware.RequireSession(env.sessions),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.PATCH("/conversations/:id", h.RenameConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/messages", h.PostMessage)
	api.POST("/conversations/:id/reply", h.PostReply)
	api.POST("/upload", h.Upload)

	env.r = r
	return env
}

// do sends a JSON request (body may be nil) with optional session cookie
// and extra headers.
func (e *testEnv) do(method, path string, body any, cookie *http.Cookie, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, _ := json.Marshal(b)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// signup registers email and returns the session cookie.
func (e *testEnv) signup(t *testing.T, email string) *http.Cookie {
	t.Helper()
	w := e.do(http.MethodPost, "/auth/signup", CredentialsRequest{Email: email, Password: "secret1"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", email, w.Code, w.Body.String())
	}
	c := sessionCookie(w)
	if c == nil {
		t.Fatalf("signup %s: no session cookie", email)
	}
	return c
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (%s)", w.Code, status, w.Body.String())
	}
	if got := decode[ErrorResponse](t, w); got.Code != code {
		t.Fatalf("code = %q; want %q", got.Code, code)
	}
}
