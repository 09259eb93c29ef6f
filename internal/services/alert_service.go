// AlertService raises operator alerts at most once per (call, alert type).
// The unique index on alert_events is the only suppression mechanism, so
// concurrent deliveries of the same triggering webhook race safely. Once a
// row exists the alert counts as raised; the notification is delivered on
// the background runner and its outcome is recorded on the row without ever
// causing a re-raise.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/notify"
	"github.com/tbourn/callvault/internal/observability"
	"github.com/tbourn/callvault/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Verdict is the result of evaluating one alert condition.
type Verdict string

const (
	Raised     Verdict = "raised"
	Suppressed Verdict = "suppressed"
)

// excerptRunes bounds the transcript excerpt stored and sent with an alert.
const excerptRunes = 280

// AlertContext is what the alert summary is built from.
type AlertContext struct {
	CallerPhone string
	Transcript  string
	Details     string
	// DurationSeconds feeds the abandoned-call reason text, when known.
	DurationSeconds *int
}

// AlertService evaluates alert conditions and notifies operators.
type AlertService struct {
	DB      *gorm.DB
	Channel notify.Channel
	Runner  *Runner
	// AbandonedSeconds is the duration below which an untransferred call
	// counts as abandoned. Zero disables the rule.
	AbandonedSeconds int
	Now              func() time.Time
}

// raisedAlert is an alert row plus the context its notification needs.
type raisedAlert struct {
	event *domain.AlertEvent
	ctx   AlertContext
}

// Evaluate raises alertType for callID unless it was raised before.
// Suppression is a normal outcome, not an error.
func (s *AlertService) Evaluate(ctx context.Context, callID string, alertType domain.AlertType, ac AlertContext) (Verdict, error) {
	tr := otel.Tracer("services/AlertService")
	ctx, span := tr.Start(ctx, "Evaluate",
		trace.WithAttributes(
			attribute.String("call.id", callID),
			attribute.String("alert.type", string(alertType)),
		),
	)
	defer span.End()

	v, ra, err := s.record(ctx, s.DB, callID, alertType, ac)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("alert.verdict", string(v)))
	if ra != nil {
		s.notifyLater(ctx, *ra)
	}
	return v, nil
}

// Rules lists the alert conditions a merged record qualifies for. Only
// closed records are judged; sentiment and duration are final then.
func (s *AlertService) Rules(rec domain.CallRecord) []domain.AlertType {
	if rec.Status != domain.StatusClosed {
		return nil
	}
	var out []domain.AlertType
	if rec.Sentiment == domain.SentimentNegative {
		out = append(out, domain.AlertNegativeSentiment)
	}
	if s.AbandonedSeconds > 0 && !rec.Transferred &&
		rec.DurationSeconds != nil && *rec.DurationSeconds < s.AbandonedSeconds {
		out = append(out, domain.AlertAbandonedCall)
	}
	return out
}

// record inserts the alert row through db, which may be a transaction.
// The returned raisedAlert is nil when the alert was suppressed.
func (s *AlertService) record(ctx context.Context, db *gorm.DB, callID string, alertType domain.AlertType, ac AlertContext) (Verdict, *raisedAlert, error) {
	if !alertType.Valid() {
		return "", nil, invalid("alert_type", fmt.Sprintf("unknown alert type %q", alertType))
	}
	snap := domain.AlertSnapshot{
		CallID:            callID,
		CallerPhone:       ac.CallerPhone,
		TranscriptExcerpt: Excerpt(ac.Transcript, excerptRunes),
		Reason:            reason(alertType, ac),
		Details:           ac.Details,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", nil, err
	}
	ev := &domain.AlertEvent{
		CallID:          callID,
		AlertType:       alertType,
		RaisedAt:        now(s.Now),
		PayloadSnapshot: datatypes.JSON(raw),
	}
	err = repo.CreateAlert(ctx, db, ev)
	if errors.Is(err, repo.ErrDuplicate) {
		observability.AlertEvaluations.WithLabelValues(string(alertType), string(Suppressed)).Inc()
		return Suppressed, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	observability.AlertEvaluations.WithLabelValues(string(alertType), string(Raised)).Inc()
	return Raised, &raisedAlert{event: ev, ctx: ac}, nil
}

func (s *AlertService) notifyLater(ctx context.Context, ra raisedAlert) {
	scheduled := s.Runner.Go(ctx, "alert.notify", func(ctx context.Context) {
		s.deliver(ctx, ra)
	})
	if !scheduled {
		s.setDelivery(context.WithoutCancel(ctx), ra.event, domain.DeliveryFailed, "notification not scheduled")
	}
}

// deliver sends the summary for a raised alert and records the outcome.
func (s *AlertService) deliver(ctx context.Context, ra raisedAlert) {
	ch := s.Channel
	if ch == nil {
		ch = notify.Nop{}
	}
	var snap domain.AlertSnapshot
	_ = json.Unmarshal(ra.event.PayloadSnapshot, &snap)

	err := ch.Notify(ctx, notify.Summary{
		CallID:      ra.event.CallID,
		CallerPhone: snap.CallerPhone,
		AlertType:   string(ra.event.AlertType),
		Reason:      snap.Reason,
		Excerpt:     snap.TranscriptExcerpt,
		Details:     snap.Details,
		RaisedAt:    ra.event.RaisedAt,
	})
	switch {
	case err == nil:
		s.setDelivery(ctx, ra.event, domain.DeliveryDelivered, "")
	case errors.Is(err, notify.ErrDisabled):
		s.setDelivery(ctx, ra.event, domain.DeliverySkipped, err.Error())
	default:
		zerolog.Ctx(ctx).Error().Err(err).
			Str("call_id", ra.event.CallID).
			Str("alert_type", string(ra.event.AlertType)).
			Msg("alert notification failed")
		s.setDelivery(ctx, ra.event, domain.DeliveryFailed, err.Error())
	}
}

func (s *AlertService) setDelivery(ctx context.Context, ev *domain.AlertEvent, status, detail string) {
	observability.AlertDeliveries.WithLabelValues(status).Inc()
	ev.DeliveryStatus, ev.DeliveryDetail = status, detail
	if err := repo.UpdateAlertDelivery(ctx, s.DB, ev.ID, status, detail); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("alert_id", ev.ID).Msg("record alert delivery failed")
	}
}

func reason(t domain.AlertType, ac AlertContext) string {
	switch t {
	case domain.AlertNegativeSentiment:
		return "Caller sentiment was negative"
	case domain.AlertAbandonedCall:
		if ac.DurationSeconds != nil {
			return fmt.Sprintf("Call ended after %ds without a transfer", *ac.DurationSeconds)
		}
		return "Call was abandoned"
	}
	return string(t)
}

// Excerpt returns at most n runes of s, whitespace-collapsed, with an
// ellipsis when truncated.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
