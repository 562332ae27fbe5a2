package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/services"
)

// stubResolver maps tokens to user ids; the token "broken" simulates a
// storage failure.
type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, token string) (string, error) {
	if token == "broken" {
		return "", errors.New("db down")
	}
	if uid, ok := s[token]; ok {
		return uid, nil
	}
	return "", services.ErrUnauthorized
}

func sessionRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ContextLogger())
	r.GET("/p", mw, func(c *gin.Context) {
		uid, err := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user": uid, "authed": err == nil, "token": SessionToken(c)})
	})
	return r
}

func doSession(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSession(t *testing.T) {
	r := sessionRouter(RequireSession(stubResolver{"good": "u1"}))

	w := doSession(r, "good")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"user":"u1"`) {
		t.Fatalf("valid session: %d %s", w.Code, w.Body.String())
	}

	for _, tok := range []string{"", "unknown"} {
		w := doSession(r, tok)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status %d", tok, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if body["code"] != "unauthorized" || body["request_id"] == "" {
			t.Fatalf("unexpected body: %v", body)
		}
	}
}

func TestRequireSession_LogsOnlyInfrastructureErrors(t *testing.T) {
	buf := captureLogger(t)
	r := sessionRouter(RequireSession(stubResolver{}))

	doSession(r, "unknown")
	if strings.Contains(buf.String(), "session lookup failed") {
		t.Fatalf("unknown token should not log an error: %s", buf.String())
	}
	doSession(r, "broken")
	if !strings.Contains(buf.String(), "session lookup failed") {
		t.Fatalf("resolver failure should be logged: %s", buf.String())
	}
}

func TestSession_StoreFailureIsInternalError(t *testing.T) {
	for name, mw := range map[string]gin.HandlerFunc{
		"require":  RequireSession(stubResolver{}),
		"optional": OptionalSession(stubResolver{}),
	} {
		t.Run(name, func(t *testing.T) {
			w := doSession(sessionRouter(mw), "broken")
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status %d; store failures must not look like a logout", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "internal_error" || body["request_id"] == "" || strings.Contains(w.Body.String(), "db down") {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestOptionalSession(t *testing.T) {
	r := sessionRouter(OptionalSession(stubResolver{"good": "u1"}))

	w := doSession(r, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"authed":false`) {
		t.Fatalf("anonymous: %d %s", w.Code, w.Body.String())
	}

	w = doSession(r, "stale")
	if !strings.Contains(w.Body.String(), `"authed":false`) || !strings.Contains(w.Body.String(), `"token":"stale"`) {
		t.Fatalf("stale token should be visible but unauthenticated: %s", w.Body.String())
	}

	w = doSession(r, "good")
	if !bytes.Contains(w.Body.Bytes(), []byte(`"authed":true`)) {
		t.Fatalf("valid session: %s", w.Body.String())
	}
}

func TestUserID_WrongType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, err := UserID(c); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	c.Set(ctxKeyUserID, 42)
	if _, err := UserID(c); !errors.Is(err, ErrNoSession) {
		t.Fatalf("non-string user id accepted")
	}
}
