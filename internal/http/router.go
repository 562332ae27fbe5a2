// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, sessions, idempotency, and rate
// limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/study-assistant/docs"
	"github.com/tbourn/study-assistant/internal/config"
	"github.com/tbourn/study-assistant/internal/http/handlers"
	"github.com/tbourn/study-assistant/internal/http/middleware"
	"github.com/tbourn/study-assistant/internal/llm"
	"github.com/tbourn/study-assistant/internal/repo"
	"github.com/tbourn/study-assistant/internal/services"
	"github.com/tbourn/study-assistant/internal/storage"
)

// multipartSlack is added to the upload size cap to leave room for the
// multipart framing around the file.
const multipartSlack = 64 << 10

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. gen answers reply requests and store receives uploads.
//
// Global middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. ContextLogger: request-scoped logger
//  4. RedactingLogger: access log with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Metrics
//  7. Gzip
//  8. CORS and security headers
//
// The authenticated API adds, in order: RequireSession, the idempotency
// validator (which needs the user id) and a per-user rate limiter that
// replays bypass. Auth endpoints get no-store, an optional session and a
// per-IP rate limiter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gen llm.Generator, store storage.Uploader, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2-4) Correlate requests and logs
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Goog-Api-Key"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:     cfg.Security.EnableHSTS,
		HSTSMaxAge:     cfg.Security.HSTSMaxAge,
		NoStore:        false,
		EnablePolicy:   true,
		PublicPrefixes: []string{storage.LocalRoute},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if local, ok := store.(*storage.Local); ok {
		r.Static(storage.LocalRoute, local.Dir)
	}

	// Dependency injection: services ← repo/db/collaborators
	sessions := services.NewSessionService(db, cfg.SessionCacheTTL)
	convs := services.NewConversationService(db, cfg.IdempotencyTTL)
	convs.AttachmentPrefixes = storage.AllowedPrefixes(store)
	h := handlers.New(handlers.Deps{
		Credentials:    services.NewCredentialService(db),
		Sessions:       sessions,
		Conversations:  convs,
		Replies:        services.NewReplyService(convs, gen),
		Attachments:    services.NewAttachmentService(store, cfg.Upload.Timeout),
		SecureCookie:   cfg.IsProduction(),
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Session lifecycle
	authRL := middleware.NewRateLimiter("auth", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	auth := api.Group("/auth",
		limitBody(cfg.MaxBodyBytes),
		middleware.NoStore(),
		middleware.OptionalSession(sessions),
		authRL.Handler(),
	)
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/session", h.Session)
	}

	// Authenticated API
	apiRL := middleware.NewRateLimiter("api", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	protected := api.Group("",
		middleware.RequireSession(sessions),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
				rec, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
				if err != nil || rec == nil {
					return false, nil
				}
				return true, nil
			},
		),
		apiRL.Handler(),
	)
	{
		body := protected.Group("", limitBody(cfg.MaxBodyBytes))

		// Conversations
		body.GET("/conversations", h.ListConversations)
		body.POST("/conversations", h.CreateConversation)
		body.PATCH("/conversations/:id", h.RenameConversation)
		body.DELETE("/conversations/:id", h.DeleteConversation)

		// Messages
		body.GET("/conversations/:id/messages", h.ListMessages)
		body.POST("/conversations/:id/messages", h.PostMessage)
		body.POST("/conversations/:id/reply", h.PostReply)

		// Attachments
		var uploadCap int64
		if cfg.Upload.MaxBytes > 0 {
			uploadCap = cfg.Upload.MaxBytes + multipartSlack
		}
		protected.POST("/upload", limitBody(uploadCap), h.Upload)
	}
}

// corsMiddleware returns the CORS posture: allow every origin without
// credentials when no allowlist is configured, otherwise echo allowlisted
// origins with credentials so the session cookie is sent.
func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}

	if len(cfg.AllowedOrigins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    expose,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}
	return []gin.HandlerFunc{cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     methods,
		AllowHeaders:     headers,
		ExposeHeaders:    expose,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error. maxBytes <= 0 disables the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
