// Package httpapi wires the HTTP transport (Gin) to the service layer,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, webhook authentication, idempotency, and rate
// limiting.
//
// Routes:
//   - /health, /metrics, /swagger/* (optional) at the root
//   - {base}/webhooks/* guarded by the shared webhook secret
//   - {base}/admin/* guarded by HTTP Basic credentials
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/callvault/docs"
	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/http/handlers"
	"github.com/tbourn/callvault/internal/http/middleware"
	"github.com/tbourn/callvault/internal/repo"
	"github.com/tbourn/callvault/internal/services"
)

const (
	defaultMaxBody = 1 << 20
	healthTimeout  = 2 * time.Second
)

// webhookKinds maps the last path segment of a webhook route to its event kind.
var webhookKinds = map[string]domain.EventKind{
	"transcript": domain.KindTranscript,
	"email":      domain.KindEmailRequest,
	"alert":      domain.KindAlert,
	"transfer":   domain.KindTransfer,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// Per group, authentication runs first, then the idempotency validator
// (webhooks only), then the rate limiter, so a replayed delivery bypasses
// the limit.
func RegisterRoutes(r *gin.Engine, app *services.App, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.Webhook.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health: the archive is useless without its database.
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := repo.Ping(ctx, app.DB); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(app.Ingest, app.Query, app.Templates, cfg.Webhook.Timeout)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Webhooks
	wh := api.Group("/webhooks",
		middleware.SharedSecret(cfg.Webhook.SharedSecret),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{
				MaxLen: 200,
				Scope:  func(c *gin.Context) string { return string(webhookKind(c.FullPath())) },
			},
			func(ctx context.Context, scope, key string) (bool, error) {
				raw, err := app.Guard.Replay(ctx, services.IdempotencyKey(domain.EventKind(scope), key, "", "", nil))
				if err != nil {
					return false, err
				}
				return raw != nil, nil
			},
		),
		rl.Handler(),
	)
	{
		wh.POST("/transcript", h.TranscriptWebhook)
		wh.POST("/email", h.EmailWebhook)
		wh.POST("/alert", h.AlertWebhook)
		wh.POST("/transfer", h.TransferWebhook)
	}

	// Admin
	adm := api.Group("/admin",
		middleware.RequireAuth(middleware.BasicAuth{
			Username: cfg.Admin.Username,
			Password: cfg.Admin.Password,
		}),
		rl.Handler(),
		middleware.SecurityHeaders(middleware.SecurityOptions{
			EnableHSTS: cfg.Security.EnableHSTS,
			HSTSMaxAge: cfg.Security.HSTSMaxAge,
			NoStore:    true,
		}),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		adm.GET("/calls", h.ListCalls)
		adm.GET("/calls/:id", h.GetCall)
		adm.GET("/export", h.Export)
		adm.GET("/stats", h.Stats)
		adm.GET("/templates", h.ListTemplates)
		adm.GET("/templates/:type", h.GetTemplate)
		adm.PUT("/templates/:type", h.UpdateTemplate)
		adm.DELETE("/templates/:type", h.ResetTemplate)
	}
}

// webhookKind resolves the event kind of a webhook route path.
func webhookKind(fullPath string) domain.EventKind {
	return webhookKinds[path.Base(fullPath)]
}

// corsMiddleware returns the CORS posture: allow-all when no origins are
// configured, otherwise an allowlist echoed back per request.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey, middleware.HeaderWebhookSecret, middleware.HeaderWebhookToken,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Content-Disposition", middleware.HeaderIdempotencyReplayed}
	methods := []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
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
