package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/http/middleware"
	"github.com/tbourn/callvault/internal/repo"
	"github.com/tbourn/callvault/internal/services"
)

// ---------- test helpers ----------

// newTestDB is a single-connection file database: webhook side effects
// run on the background runner while the request goroutine waits.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handlers.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		TimeZone:       "UTC",
		RetentionDays:  365,
		IdempotencyTTL: 24 * time.Hour,
		Webhook:        config.WebhookConfig{Timeout: 5 * time.Second},
		Mail: config.MailConfig{
			StubMode:     true,
			FromAddress:  "billing@town.example",
			MaxAttempts:  1,
			ResponseWait: 5 * time.Second,
		},
		Admin: config.AdminConfig{QueryTimeout: 5 * time.Second, MaxPageSize: 50},
		Town:  config.TownConfig{Name: "Town of Example", PaymentURL: "https://town.example/pay"},
	}
}

// newTestApp wires the real services in stub mail mode.
func newTestApp(t *testing.T) *services.App {
	t.Helper()
	db := newTestDB(t)
	app := services.NewApp(db, testConfig(), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Runner.Close(ctx)
	})
	return app
}

func handlersFor(app *services.App) *Handlers {
	return New(app.Ingest, app.Query, app.Templates, 5*time.Second)
}

// newTestRouter mounts every endpoint the way the production router does,
// minus auth and observability.
func newTestRouter(h *Handlers, maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if maxBody > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		c.Next()
	})

	wh := r.Group("/webhooks", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	wh.POST("/transcript", h.TranscriptWebhook)
	wh.POST("/email", h.EmailWebhook)
	wh.POST("/alert", h.AlertWebhook)
	wh.POST("/transfer", h.TransferWebhook)

	adm := r.Group("/admin")
	adm.GET("/calls", h.ListCalls)
	adm.GET("/calls/:id", h.GetCall)
	adm.GET("/export", h.Export)
	adm.GET("/stats", h.Stats)
	adm.GET("/templates", h.ListTemplates)
	adm.GET("/templates/:type", h.GetTemplate)
	adm.PUT("/templates/:type", h.UpdateTemplate)
	adm.DELETE("/templates/:type", h.ResetTemplate)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v; body=%s", err, w.Body.String())
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d; body=%s", w.Code, status, w.Body.String())
	}
	er := decodeBody[ErrorResponse](t, w)
	if er.Code != code || er.RequestID != "rid-test" {
		t.Fatalf("unexpected error body: %+v", er)
	}
	return er
}

// ---------- fakes ----------

type fakeIngestor struct {
	res    services.Result
	err    error
	gotKey string
	gotEv  domain.Event
	calls  int
}

func (f *fakeIngestor) Ingest(_ context.Context, key string, ev domain.Event) (services.Result, error) {
	f.calls++
	f.gotKey, f.gotEv = key, ev
	return f.res, f.err
}

type fakeQuerier struct {
	page      services.SearchPage
	searchErr error
	gotParams services.SearchParams
	detail    *services.CallDetail
	getErr    error
	exportFn  func(w io.Writer) (int, error)
	stats     services.Dashboard
	statsErr  error
}

func (f *fakeQuerier) Search(_ context.Context, p services.SearchParams) (services.SearchPage, error) {
	f.gotParams = p
	return f.page, f.searchErr
}

func (f *fakeQuerier) Get(context.Context, string) (*services.CallDetail, error) {
	return f.detail, f.getErr
}

func (f *fakeQuerier) Export(_ context.Context, w io.Writer) (int, error) {
	return f.exportFn(w)
}

func (f *fakeQuerier) Stats(context.Context) (services.Dashboard, error) {
	return f.stats, f.statsErr
}

type fakeTemplates struct {
	err error
}

func (f *fakeTemplates) List(context.Context) ([]services.TemplateView, error) { return nil, f.err }

func (f *fakeTemplates) Get(context.Context, domain.EmailType) (services.TemplateView, error) {
	return services.TemplateView{}, f.err
}

func (f *fakeTemplates) Update(context.Context, domain.EmailType, string, string) (services.TemplateView, error) {
	return services.TemplateView{}, f.err
}

func (f *fakeTemplates) Reset(context.Context, domain.EmailType) error { return f.err }
