// IngestService is the business half of the webhook gateway. For each
// validated event it admits the idempotency key and merges the event into
// the call record inside one transaction, so a failed merge never leaves a
// receipt behind and the source's retry is processed normally. Alert rows and
// transfer rows are written in the same transaction. Email delivery and alert
// notification run afterwards on the background runner; the webhook
// response is tied to archive durability only.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/observability"
	"github.com/tbourn/callvault/internal/repo"
	"github.com/tbourn/callvault/internal/sysutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Disposition is the terminal classification of one webhook delivery.
type Disposition string

const (
	AcceptedNew       Disposition = "accepted_new"
	AcceptedDuplicate Disposition = "accepted_duplicate"
	RejectedInvalid   Disposition = "rejected_invalid"
	// Ignored is a well-formed delivery of an event the archive does not track.
	Ignored Disposition = "ignored"
	Failed  Disposition = "failed"
)

// Ack statuses beyond the dispatch outcomes.
const (
	StatusStored    = "stored"
	StatusRecorded  = "recorded"
	StatusAlerted   = "alerted"
	StatusSuppress  = "suppressed"
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

// Ack is the JSON body returned to the event source. It is also what a
// duplicate delivery replays.
type Ack struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	EmailType string `json:"email_type,omitempty"`
	AlertType string `json:"alert_type,omitempty"`
}

// Result is the outcome of Ingest.
type Result struct {
	Disposition Disposition
	Ack         Ack
}

// IngestService processes decoded webhook events.
type IngestService struct {
	DB     *gorm.DB
	Guard  *Guard
	Email  *EmailService
	Alerts *AlertService
	Runner *Runner
	// ResponseWait bounds how long an email request holds its response
	// waiting for the dispatch outcome before answering "queued".
	ResponseWait time.Duration
	Now          func() time.Time
}

// errAlreadySeen rolls back the admission transaction of a duplicate.
var errAlreadySeen = errors.New("already seen")

// Ingest admits, merges, and triggers side effects for ev. key is the
// delivery's idempotency key (see IdempotencyKey).
//
// Errors: ErrValidation for an invalid event (nothing is stored),
// ErrTransient when the archive could not commit (the source should retry).
func (s *IngestService) Ingest(ctx context.Context, key string, ev domain.Event) (Result, error) {
	if ev == nil {
		return Result{Disposition: RejectedInvalid}, invalid("event", "missing")
	}
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("call.id", ev.Call()),
			attribute.String("event.kind", string(ev.Kind())),
		),
	)
	defer span.End()

	res, err := s.ingest(ctx, key, ev)
	if err != nil {
		res.Disposition = Failed
		if errors.Is(err, ErrValidation) {
			res.Disposition = RejectedInvalid
		}
	}
	observability.WebhookDispositions.WithLabelValues(string(ev.Kind()), string(res.Disposition)).Inc()
	span.SetAttributes(attribute.String("event.disposition", string(res.Disposition)))
	return res, err
}

func (s *IngestService) ingest(ctx context.Context, key string, ev domain.Event) (Result, error) {
	if err := Validate(ev); err != nil {
		return Result{}, err
	}
	callID := ev.Call()
	ts := now(s.Now)

	var (
		rec      *domain.CallRecord
		conflict bool
		raised   []raisedAlert
		alertV   Verdict
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adm, err := s.Guard.Admit(ctx, tx, key, callID, ev.Kind())
		if err != nil {
			return err
		}
		if adm == AlreadySeen {
			return errAlreadySeen
		}

		rec, conflict, err = repo.MergeCall(ctx, tx, callID, ev.Patch(), ts)
		if err != nil {
			return err
		}

		switch e := ev.(type) {
		case domain.TransferRequestEvent:
			return repo.CreateTransfer(ctx, tx, &domain.TransferEvent{
				CallID:       callID,
				TargetNumber: optionalString(e.TargetNumber),
				Reason:       optionalString(e.Reason),
				Notes:        optionalString(e.Notes),
				CreatedAt:    ts,
			})
		case domain.AlertRequestEvent:
			ac := AlertContext{
				CallerPhone:     phoneOf(rec),
				Transcript:      sysutil.FirstNonEmpty(e.Transcript, transcriptOf(rec)),
				Details:         e.Details,
				DurationSeconds: rec.DurationSeconds,
			}
			v, ra, err := s.Alerts.record(ctx, tx, callID, e.AlertType, ac)
			if err != nil {
				return err
			}
			alertV = v
			if ra != nil {
				raised = append(raised, *ra)
			}
		case domain.TranscriptEvent:
			for _, t := range s.Alerts.Rules(*rec) {
				ac := AlertContext{
					CallerPhone:     phoneOf(rec),
					Transcript:      transcriptOf(rec),
					DurationSeconds: rec.DurationSeconds,
				}
				_, ra, err := s.Alerts.record(ctx, tx, callID, t, ac)
				if err != nil {
					return err
				}
				if ra != nil {
					raised = append(raised, *ra)
				}
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadySeen) {
		return s.replay(ctx, key, callID)
	}
	if err != nil {
		return Result{}, transient(err)
	}

	lg := zerolog.Ctx(ctx)
	if conflict {
		// Possible source-side reuse of a call id; the first transcript stands.
		observability.TerminalAnomalies.Inc()
		lg.Warn().Str("call_id", callID).Msg("conflicting terminal event for closed call; not applied")
	}
	for _, ra := range raised {
		s.Alerts.notifyLater(ctx, ra)
	}

	var ack Ack
	switch e := ev.(type) {
	case domain.TranscriptEvent:
		ack = Ack{Status: StatusStored, ID: callID, CallID: callID}
	case domain.TransferRequestEvent:
		ack = Ack{Status: StatusRecorded, CallID: callID}
	case domain.AlertRequestEvent:
		ack = Ack{Status: StatusAlerted, CallID: callID, AlertType: string(e.AlertType)}
		if alertV == Suppressed {
			ack.Status = StatusSuppress
		}
	case domain.EmailRequestEvent:
		return Result{Disposition: AcceptedNew, Ack: s.email(ctx, key, e)}, nil
	}
	s.remember(ctx, key, ack)
	return Result{Disposition: AcceptedNew, Ack: ack}, nil
}

// email runs the dispatch on the background runner and waits up to
// ResponseWait for its outcome. The background task stores the final
// response, so a duplicate arriving later replays the real outcome even
// when this request answered "queued".
func (s *IngestService) email(ctx context.Context, key string, e domain.EmailRequestEvent) Ack {
	ack := Ack{Status: StatusQueued, CallID: e.CallID, EmailType: string(e.EmailType)}
	done := make(chan Ack, 1)

	scheduled := s.Runner.Go(ctx, "email.dispatch", func(bg context.Context) {
		outcome, err := s.Email.Dispatch(bg, e.CallID, e.EmailType, e.Recipient)
		if err != nil {
			zerolog.Ctx(bg).Warn().Err(err).
				Str("call_id", e.CallID).
				Str("email_type", string(e.EmailType)).
				Msg("email dispatch failed")
		}
		final := ack
		final.Status = string(outcome)
		s.remember(bg, key, final)
		done <- final
	})
	if !scheduled {
		ack.Status = string(domain.OutcomeFailed)
		zerolog.Ctx(ctx).Error().Str("call_id", e.CallID).Msg("email dispatch not scheduled")
		// Retries replay this ack, so the audit row is the only trace.
		if err := s.Email.log(ctx, e.CallID, e.EmailType, e.Recipient, 1, domain.OutcomeFailed, "dispatch not scheduled"); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("call_id", e.CallID).Msg("append dispatch log failed")
		}
		s.remember(ctx, key, ack)
		return ack
	}

	wait := s.ResponseWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case final := <-done:
		return final
	case <-timer.C:
	case <-ctx.Done():
	}
	return ack
}

func (s *IngestService) replay(ctx context.Context, key, callID string) (Result, error) {
	res := Result{Disposition: AcceptedDuplicate, Ack: Ack{Status: StatusDuplicate, CallID: callID}}
	raw, err := s.Guard.Replay(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("load stored response failed")
		return res, nil
	}
	if raw != nil {
		var ack Ack
		if json.Unmarshal(raw, &ack) == nil && ack.Status != "" {
			res.Ack = ack
		}
	}
	return res, nil
}

func (s *IngestService) remember(ctx context.Context, key string, ack Ack) {
	raw, err := json.Marshal(ack)
	if err == nil {
		err = s.Guard.Record(context.WithoutCancel(ctx), key, raw)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("call_id", ack.CallID).Msg("store webhook response failed")
	}
}

func phoneOf(rec *domain.CallRecord) string {
	if rec == nil || rec.CallerPhone == nil {
		return ""
	}
	return *rec.CallerPhone
}

func transcriptOf(rec *domain.CallRecord) string {
	if rec == nil || rec.Transcript == nil {
		return ""
	}
	return *rec.Transcript
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
