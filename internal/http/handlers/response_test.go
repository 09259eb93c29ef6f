package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// envelopeRouter captures the request-scoped log and the Gin error list of
// the last request.
func envelopeRouter(buf *bytes.Buffer, errs *[]string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	lg := zerolog.New(buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Set("logger", &lg)
		c.Next()
		for _, e := range c.Errors {
			*errs = append(*errs, e.Error())
		}
	})
	return r
}

func Test_failErr_HidesCause(t *testing.T) {
	var (
		buf  bytes.Buffer
		errs []string
	)
	r := envelopeRouter(&buf, &errs)
	r.GET("/export", func(c *gin.Context) {
		failErr(c, http.StatusInternalServerError, ErrCodeExportFailed, "export failed",
			errors.New("sql: SELECT caller_phone FROM calls: disk I/O error"))
	})

	w := do(t, r, http.MethodGet, "/export", "", nil)
	er := wantError(t, w, http.StatusInternalServerError, ErrCodeExportFailed)
	if er.Message != "export failed" || strings.Contains(w.Body.String(), "caller_phone") {
		t.Fatalf("cause leaked to client: %s", w.Body.String())
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "disk I/O") {
		t.Fatalf("cause should be attached to the context, got %v", errs)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"code":"export_failed"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_fail_ClientErrorsAreNotLogged(t *testing.T) {
	var (
		buf  bytes.Buffer
		errs []string
	)
	r := envelopeRouter(&buf, &errs)
	r.POST("/webhooks/transcript", func(c *gin.Context) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "call_id: is required")
	})
	r.NoRoute(func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found") })

	w := do(t, r, http.MethodPost, "/webhooks/transcript", `{}`, nil)
	if er := wantError(t, w, http.StatusBadRequest, ErrCodeValidation); er.Message != "call_id: is required" {
		t.Fatalf("message=%q", er.Message)
	}
	wantError(t, do(t, r, http.MethodGet, "/nowhere", "", nil), http.StatusNotFound, ErrCodeNotFound)

	if buf.Len() != 0 || len(errs) != 0 {
		t.Fatalf("4xx should stay quiet: log=%q errs=%v", buf.String(), errs)
	}
}

func Test_okAndNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ack", func(c *gin.Context) {
		ok(c, http.StatusAccepted, gin.H{"status": "queued", "call_id": "call_1"})
	})
	r.DELETE("/templates/payment_link", func(c *gin.Context) { noContent(c) })

	w := do(t, r, http.MethodGet, "/ack", "", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeBody[map[string]string](t, w); body["status"] != "queued" || body["call_id"] != "call_1" {
		t.Fatalf("body=%v", body)
	}

	w = do(t, r, http.MethodDelete, "/templates/payment_link", "", nil)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("status=%d len=%d", w.Code, w.Body.Len())
	}
}
