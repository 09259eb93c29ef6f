// Admin HTTP handlers.
//
// This file exposes the authenticated, read-mostly admin surface:
//   - GET    /admin/calls              (search, paginated)
//   - GET    /admin/calls/{id}         (one call with its audit trail)
//   - GET    /admin/export             (whole archive as CSV)
//   - GET    /admin/stats              (dashboard counters)
//   - GET    /admin/templates          (email templates)
//   - GET    /admin/templates/{type}
//   - PUT    /admin/templates/{type}   (override subject/body)
//   - DELETE /admin/templates/{type}   (back to the built-in template)
//
// Handlers are transport-thin: they parse query parameters, call the query
// and template services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/http/middleware"
	"github.com/tbourn/callvault/internal/services"
	"github.com/tbourn/callvault/internal/utils"
)

//
// Service contracts (context-aware)
//

// Ingestor admits one webhook event into the archive.
type Ingestor interface {
	Ingest(ctx context.Context, key string, ev domain.Event) (services.Result, error)
}

// CallQuerier serves admin reads over the archive.
//
// Implementations must honor the provided context for cancellation and
// timeouts.
type CallQuerier interface {
	// Search returns one page of calls matching p, newest first.
	Search(ctx context.Context, p services.SearchParams) (services.SearchPage, error)
	// Get returns one call with its audit trail, or services.ErrCallNotFound.
	Get(ctx context.Context, callID string) (*services.CallDetail, error)
	// Export writes the archive as CSV and returns the number of data rows.
	Export(ctx context.Context, w io.Writer) (int, error)
	// Stats returns dashboard counters.
	Stats(ctx context.Context) (services.Dashboard, error)
}

// TemplateManager edits the per-type email template overrides.
type TemplateManager interface {
	List(ctx context.Context) ([]services.TemplateView, error)
	Get(ctx context.Context, t domain.EmailType) (services.TemplateView, error)
	Update(ctx context.Context, t domain.EmailType, subject, body string) (services.TemplateView, error)
	Reset(ctx context.Context, t domain.EmailType) error
}

//
// Handler wiring
//

// Handlers groups the webhook and admin endpoints.
type Handlers struct {
	ingest    Ingestor
	calls     CallQuerier
	templates TemplateManager
	// timeout bounds one webhook ingestion, side effects excluded.
	timeout time.Duration
}

// New constructs a Handlers bound to the given services.
func New(ingest Ingestor, calls CallQuerier, templates TemplateManager, webhookTimeout time.Duration) *Handlers {
	return &Handlers{ingest: ingest, calls: calls, templates: templates, timeout: webhookTimeout}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListCallsResponse wraps a page of calls and pagination information.
// Transcripts are omitted; fetch one call to read it.
type ListCallsResponse struct {
	Calls      []domain.CallRecord `json:"calls"`
	Pagination Pagination          `json:"pagination"`
}

// UpdateTemplateRequest is the JSON payload for overriding a template. A
// blank field keeps the built-in value.
type UpdateTemplateRequest struct {
	Subject string `json:"subject" example:"Payment link for {{.Town.Name}}"`
	Body    string `json:"body" example:"Pay online at {{.Town.PaymentURL}}"`
}

// ListTemplatesResponse wraps all known templates.
type ListTemplatesResponse struct {
	Templates []services.TemplateView `json:"templates"`
}

const (
	defaultPage     = 1
	defaultPageSize = 20
	exportFilename  = "call_archive.csv"
	exportTrailer   = "X-Export-Status"
)

// ListCalls godoc
// @ID          listCalls
// @Summary     Search archived calls
// @Description Filters by call id (exact), phone (digit match), and a time window. Dates accept RFC 3339 or YYYY-MM-DD in the archive's time zone.
// @Tags        Admin
// @Produce     json
// @Security    BasicAuth
//
// @Param       call_id    query  string  false  "Exact call id"
// @Param       phone      query  string  false  "Caller phone, any formatting"
// @Param       from       query  string  false  "Window start (inclusive)"
// @Param       to         query  string  false  "Window end (exclusive; a date includes that day)"
// @Param       date       query  string  false  "One local day, YYYY-MM-DD"
// @Param       page       query  int     false  "Page number (>=1)"       minimum(1)  default(1)
// @Param       page_size  query  int     false  "Page size"               minimum(1)  default(20)
//
// @Success     200  {object}  handlers.ListCallsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid filter"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Search failed"
// @Router      /admin/calls [get]
func (h *Handlers) ListCalls(c *gin.Context) {
	p := services.SearchParams{
		CallID:   c.Query("call_id"),
		Phone:    c.Query("phone"),
		From:     c.Query("from"),
		To:       c.Query("to"),
		Date:     c.Query("date"),
		Page:     utils.AtoiDefault(c.Query("page"), defaultPage),
		PageSize: utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
	}
	res, err := h.calls.Search(c.Request.Context(), p)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		failErr(c, http.StatusInternalServerError, ErrCodeSearchFailed, "could not search calls", err)
		return
	}

	calls := res.Calls
	if calls == nil {
		calls = []domain.CallRecord{}
	}
	pages := utils.TotalPages(res.Total, res.PageSize)
	ok(c, http.StatusOK, ListCallsResponse{
		Calls: calls,
		Pagination: Pagination{
			Page:       res.Page,
			PageSize:   res.PageSize,
			Total:      res.Total,
			TotalPages: pages,
			HasNext:    res.Page < pages,
		},
	})
}

// GetCall godoc
// @ID          getCall
// @Summary     Get one call
// @Description Returns the full record, transcript included, with its email dispatches, alerts and transfers.
// @Tags        Admin
// @Produce     json
// @Security    BasicAuth
// @Param       id   path      string  true  "Call ID"
// @Success     200  {object}  services.CallDetail
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Call not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Fetch failed"
// @Router      /admin/calls/{id} [get]
func (h *Handlers) GetCall(c *gin.Context) {
	d, err := h.calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrCallNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "call not found")
			return
		}
		failErr(c, http.StatusInternalServerError, ErrCodeFetchFailed, "could not load call", err)
		return
	}
	ok(c, http.StatusOK, d)
}

// Export godoc
// @ID          exportCalls
// @Summary     Export the archive as CSV
// @Description Streams every call as one CSV row. The X-Export-Status trailer is "complete", or "truncated" when the stream broke after rows were sent.
// @Tags        Admin
// @Produce     text/csv
// @Security    BasicAuth
// @Success     200  {string}  string  "CSV document"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Export failed"
// @Router      /admin/export [get]
func (h *Handlers) Export(c *gin.Context) {
	c.Header("Trailer", exportTrailer)
	w := &lazyCSVWriter{c: c}

	n, err := h.calls.Export(c.Request.Context(), w)
	if err != nil {
		if !w.started {
			c.Writer.Header().Del("Trailer")
			failErr(c, http.StatusInternalServerError, ErrCodeExportFailed, "could not export calls", err)
			return
		}
		_ = c.Error(err)
		c.Writer.Header().Set(exportTrailer, "truncated")
		return
	}
	if !w.started {
		w.start()
	}
	c.Writer.Header().Set(exportTrailer, "complete")
	middleware.LoggerFrom(c).Info().Int("rows", n).Msg("archive exported")
}

// lazyCSVWriter commits the CSV response headers on the first write, so a
// failure before any output can still answer with a JSON error.
type lazyCSVWriter struct {
	c       *gin.Context
	started bool
}

func (w *lazyCSVWriter) start() {
	w.started = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/csv; charset=utf-8")
	h.Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.c.Status(http.StatusOK)
}

func (w *lazyCSVWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.start()
	}
	return w.c.Writer.Write(p)
}

// Stats godoc
// @ID          archiveStats
// @Summary     Dashboard counters
// @Tags        Admin
// @Produce     json
// @Security    BasicAuth
// @Success     200  {object}  services.Dashboard
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Stats failed"
// @Router      /admin/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	d, err := h.calls.Stats(c.Request.Context())
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeStatsFailed, "could not compute stats", err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ListTemplates godoc
// @ID          listTemplates
// @Summary     List email templates
// @Tags        Admin
// @Produce     json
// @Security    BasicAuth
// @Success     200  {object}  handlers.ListTemplatesResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Template failure"
// @Router      /admin/templates [get]
func (h *Handlers) ListTemplates(c *gin.Context) {
	views, err := h.templates.List(c.Request.Context())
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeTemplateFailed, "could not list templates", err)
		return
	}
	ok(c, http.StatusOK, ListTemplatesResponse{Templates: views})
}

// GetTemplate godoc
// @ID          getTemplate
// @Summary     Get one email template
// @Tags        Admin
// @Produce     json
// @Security    BasicAuth
// @Param       type  path      string  true  "Template type"  Enums(payment_link, adjustment_form, general_info)
// @Success     200   {object}  services.TemplateView
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown template type"
// @Failure     500   {object}  handlers.ErrorResponse  "Template failure"
// @Router      /admin/templates/{type} [get]
func (h *Handlers) GetTemplate(c *gin.Context) {
	v, err := h.templates.Get(c.Request.Context(), domain.EmailType(c.Param("type")))
	if err != nil {
		h.templateError(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// UpdateTemplate godoc
// @ID          updateTemplate
// @Summary     Override an email template
// @Description Blank fields keep the built-in value. The merged template must parse.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BasicAuth
// @Param       type  path      string                          true  "Template type"
// @Param       body  body      handlers.UpdateTemplateRequest  true  "Override"
// @Success     200   {object}  services.TemplateView
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid template"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown template type"
// @Failure     500   {object}  handlers.ErrorResponse  "Template failure"
// @Router      /admin/templates/{type} [put]
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	var req UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.templates.Update(c.Request.Context(), domain.EmailType(c.Param("type")), req.Subject, req.Body)
	if err != nil {
		h.templateError(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// ResetTemplate godoc
// @ID          resetTemplate
// @Summary     Restore the built-in email template
// @Tags        Admin
// @Security    BasicAuth
// @Param       type  path  string  true  "Template type"
// @Success     204   "Reset"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown template type"
// @Failure     500   {object}  handlers.ErrorResponse  "Template failure"
// @Router      /admin/templates/{type} [delete]
func (h *Handlers) ResetTemplate(c *gin.Context) {
	if err := h.templates.Reset(c.Request.Context(), domain.EmailType(c.Param("type"))); err != nil {
		h.templateError(c, err)
		return
	}
	noContent(c)
}

func (h *Handlers) templateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownTemplate):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown template type")
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeTemplateFailed, "template operation failed", err)
	}
}
