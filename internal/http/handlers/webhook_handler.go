// Webhook HTTP handlers.
//
// This file exposes the ingestion endpoints the voice platform calls:
//   - POST /webhooks/transcript  (call ended: transcript and metadata)
//   - POST /webhooks/email       (send a templated email to the caller)
//   - POST /webhooks/alert       (raise an operator alert)
//   - POST /webhooks/transfer    (call handed to a live agent)
//
// The platform retries until it sees a 2xx, so the status codes are the
// contract: 2xx for new and duplicate deliveries, 400 for payloads that will
// never succeed, 503 when the archive could not commit and a retry should.
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
	"github.com/tbourn/callvault/internal/observability"
	"github.com/tbourn/callvault/internal/services"
)

// retryAfterSeconds is advertised with 503 responses.
const retryAfterSeconds = "5"

// IgnoredResponse acknowledges a platform event the archive does not store.
type IgnoredResponse struct {
	Status string `json:"status" example:"ignored"`
	Event  string `json:"event" example:"call_started"`
}

// TranscriptWebhook godoc
// @ID          transcriptWebhook
// @Summary     Ingest a call-ended event
// @Description Stores the transcript and call metadata. Accepts the flat payload or the platform's call_ended envelope; other platform events are acknowledged as ignored.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false  "Shared webhook secret"
// @Param       Idempotency-Key   header  string  false  "Delivery key; retries must reuse it"
// @Param       body              body    object  true   "Transcript event"
//
// @Success     200  {object}  services.Ack
// @Success     200  {object}  handlers.IgnoredResponse  "ignored platform event"
// @Header      200  {string}  Idempotency-Replayed  "true when the response is a stored replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad webhook secret"
// @Failure     503  {object}  handlers.ErrorResponse  "Archive unavailable, retry"
// @Router      /webhooks/transcript [post]
func (h *Handlers) TranscriptWebhook(c *gin.Context) {
	h.webhook(c, domain.KindTranscript, decodeTranscript)
}

// EmailWebhook godoc
// @ID          emailWebhook
// @Summary     Request a templated email
// @Description Records the request and dispatches the email. Waits briefly for the relay; answers "queued" (202) when the outcome is not known yet.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false  "Shared webhook secret"
// @Param       Idempotency-Key   header  string  false  "Delivery key; retries must reuse it"
// @Param       body              body    object  true   "Email request {call_id, email_type, user_email} or {args, call}"
//
// @Success     200  {object}  services.Ack  "sent, stubbed or failed"
// @Success     202  {object}  services.Ack  "queued"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload or unknown template"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad webhook secret"
// @Failure     503  {object}  handlers.ErrorResponse  "Archive unavailable, retry"
// @Router      /webhooks/email [post]
func (h *Handlers) EmailWebhook(c *gin.Context) {
	h.webhook(c, domain.KindEmailRequest, decodeEmail)
}

// AlertWebhook godoc
// @ID          alertWebhook
// @Summary     Raise an operator alert
// @Description Raises alert_type for the call at most once; later deliveries answer "suppressed".
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false  "Shared webhook secret"
// @Param       Idempotency-Key   header  string  false  "Delivery key; retries must reuse it"
// @Param       body              body    object  true   "Alert event {alert_type, call_id, transcript?, details?}"
//
// @Success     200  {object}  services.Ack  "alerted or suppressed"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload or unknown alert type"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad webhook secret"
// @Failure     503  {object}  handlers.ErrorResponse  "Archive unavailable, retry"
// @Router      /webhooks/alert [post]
func (h *Handlers) AlertWebhook(c *gin.Context) {
	h.webhook(c, domain.KindAlert, decodeAlert)
}

// TransferWebhook godoc
// @ID          transferWebhook
// @Summary     Record a live-agent transfer
// @Description Marks the call transferred and appends a transfer audit row.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false  "Shared webhook secret"
// @Param       Idempotency-Key   header  string  false  "Delivery key; retries must reuse it"
// @Param       body              body    object  true   "Transfer event {call_id, target_number?, reason?, notes?}"
//
// @Success     200  {object}  services.Ack  "recorded"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad webhook secret"
// @Failure     503  {object}  handlers.ErrorResponse  "Archive unavailable, retry"
// @Router      /webhooks/transfer [post]
func (h *Handlers) TransferWebhook(c *gin.Context) {
	h.webhook(c, domain.KindTransfer, decodeTransfer)
}

// webhook is the shared pipeline: read, decode, key, ingest, answer.
func (h *Handlers) webhook(c *gin.Context, kind domain.EventKind, decode decodeFunc) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		reject(kind)
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	d, err := decode(raw)
	if err != nil {
		reject(kind)
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if d.ignored {
		observability.WebhookDispositions.WithLabelValues(string(kind), string(services.Ignored)).Inc()
		middleware.LoggerFrom(c).Info().Str("event", d.name).Msg("ignoring unsupported platform event")
		ok(c, http.StatusOK, IgnoredResponse{Status: services.StatusIgnored, Event: d.name})
		return
	}

	header, _ := middleware.GetIdempotencyKey(c)
	key := services.IdempotencyKey(kind, header, d.eventID, d.event.Call(), raw)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.webhookTimeout())
	defer cancel()

	res, err := h.ingest.Ingest(ctx, key, d.event)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case errors.Is(err, services.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		c.Header("Retry-After", retryAfterSeconds)
		failErr(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "archive temporarily unavailable", err)
		return
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error", err)
		return
	}

	if res.Disposition == services.AcceptedDuplicate {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	status := http.StatusOK
	if res.Ack.Status == services.StatusQueued {
		status = http.StatusAccepted
	}
	ok(c, status, res.Ack)
}

// reject counts a delivery refused before it reached the ingest service.
func reject(kind domain.EventKind) {
	observability.WebhookDispositions.WithLabelValues(string(kind), string(services.RejectedInvalid)).Inc()
}

func (h *Handlers) webhookTimeout() time.Duration {
	if h.timeout <= 0 {
		return 10 * time.Second
	}
	return h.timeout
}
