package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opt SecurityOptions, req *http.Request) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/api/conversations", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"conversations": []string{}}) })
	r.GET("/files/*name", func(c *gin.Context) { c.String(http.StatusOK, "png") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecurity(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))

	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" || h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %v", h)
	}
	if h.Get("Cross-Origin-Resource-Policy") != "same-site" || h.Get("Vary") != "Cookie" {
		t.Fatalf("API responses should be same-site and vary by cookie: %v", h)
	}
	for _, k := range []string{"Permissions-Policy", "X-Permitted-Cross-Domain-Policies", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Fatalf("unexpected %s: %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_PublicFiles(t *testing.T) {
	opt := SecurityOptions{PublicPrefixes: []string{"/files"}}

	h := serveSecurity(opt, httptest.NewRequest(http.MethodGet, "/files/3f2a.png", nil))
	if h.Get("Cross-Origin-Resource-Policy") != "cross-origin" || h.Get("Vary") != "" {
		t.Fatalf("uploaded files should be embeddable: %v", h)
	}

	if hasAnyPrefix("/filesystem", opt.PublicPrefixes) {
		t.Fatalf("prefix match must stop at a path segment")
	}
	if !hasAnyPrefix("/files", opt.PublicPrefixes) || hasAnyPrefix("/files", []string{""}) {
		t.Fatalf("prefix matching")
	}
}

func TestSecurityHeaders_PolicyNoStoreHSTS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.TLS = &tls.ConnectionState{}
	h := serveSecurity(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}, req)

	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %v", h)
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("missing cache headers: %v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	plain := serveSecurity(SecurityOptions{EnableHSTS: true}, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	proxied := serveSecurity(SecurityOptions{EnableHSTS: true}, req)
	if got := proxied.Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("default max-age not applied: %q", got)
	}
}

func TestNoStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NoStore())
	r.GET("/auth/session", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"user": nil}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if w.Header().Get("Pragma") != "no-cache" || w.Header().Get("Expires") != "0" {
		t.Fatalf("legacy cache headers missing: %v", w.Header())
	}
}
