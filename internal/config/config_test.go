package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api" {
		t.Fatalf("APIBasePath default = %q", cfg.APIBasePath)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "app.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.SessionCacheTTL != time.Minute {
		t.Fatalf("SessionCacheTTL default = %v", cfg.SessionCacheTTL)
	}
	if cfg.Upload.Provider != "local" || cfg.Upload.Folder != "study-assistant" {
		t.Fatalf("upload defaults unexpected: %+v", cfg.Upload)
	}
	if cfg.Gemini.Model != "gemini-1.5-flash" || cfg.Gemini.MaxConcurrent != 8 {
		t.Fatalf("gemini defaults unexpected: %+v", cfg.Gemini)
	}
	if cfg.IsProduction() {
		t.Fatalf("default env must not be production")
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("GIN_MODE", "weird")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("LOG_FILE", "/tmp/app.log")
	t.Setenv("API_BASE_PATH", "api/v1/")
	t.Setenv("DB_DRIVER", "postgresql")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("SESSION_CACHE_TTL", "0s")
	t.Setenv("GEMINI_ENDPOINT", "http://gemini.local/")
	t.Setenv("GENERATION_MAX_CONCURRENT", "2")
	t.Setenv("UPLOAD_PROVIDER", "cloudinary")
	t.Setenv("CLOUDINARY_URL", "cloudinary://k:s@demo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q; want release", cfg.GinMode)
	}
	if !cfg.IsProduction() {
		t.Fatalf("prod should normalize to production, got %q", cfg.Env)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.LogFile.Path != "/tmp/app.log" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DB.Driver != "postgres" {
		t.Fatalf("DB driver = %q", cfg.DB.Driver)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("invalid rate values should fall back, got %v/%d", cfg.RateRPS, cfg.RateBurst)
	}
	if want := []string{"https://a.com", "http://b"}; !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Fatalf("CORS = %#v; want %#v", cfg.CORS.AllowedOrigins, want)
	}
	if cfg.SessionCacheTTL != 0 {
		t.Fatalf("SessionCacheTTL = %v", cfg.SessionCacheTTL)
	}
	if cfg.Gemini.Endpoint != "http://gemini.local" || cfg.Gemini.MaxConcurrent != 2 {
		t.Fatalf("gemini fields unexpected: %+v", cfg.Gemini)
	}
	if cfg.Upload.Provider != "cloudinary" {
		t.Fatalf("upload provider = %q", cfg.Upload.Provider)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"empty port", map[string]string{"PORT": " "}, "PORT"},
		{"negative timeout", map[string]string{"READ_TIMEOUT": "-1s"}, "timeouts"},
		{"bad driver", map[string]string{"DB_DRIVER": "mongo"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"negative cache ttl", map[string]string{"SESSION_CACHE_TTL": "-1s"}, "SESSION_CACHE_TTL"},
		{"negative rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"zero burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"zero idempotency", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"zero gen timeout", map[string]string{"GENERATION_TIMEOUT": "0s"}, "GENERATION_TIMEOUT"},
		{"zero gen concurrency", map[string]string{"GENERATION_MAX_CONCURRENT": "0"}, "GENERATION_MAX_CONCURRENT"},
		{"bad provider", map[string]string{"UPLOAD_PROVIDER": "s3"}, "UPLOAD_PROVIDER"},
		{"cloudinary without creds", map[string]string{"UPLOAD_PROVIDER": "cloudinary"}, "CLOUDINARY"},
		{"zero upload size", map[string]string{"MAX_UPLOAD_BYTES": "0"}, "MAX_UPLOAD_BYTES"},
		{"bad sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "2"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		" / ":      "/",
		"api":      "/api",
		"/api/":    "/api",
		"/api/v1/": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
