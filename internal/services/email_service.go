// EmailService renders a named template against call context and hands it to
// the configured mail relay, or simulates delivery in stub mode. Every
// attempt is appended to the dispatch log before Dispatch returns, whatever
// the outcome. Transient relay failures are retried with exponential backoff
// up to MaxAttempts; each retry is its own log row.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/observability"
	"github.com/tbourn/callvault/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EmailService dispatches templated email for a call.
type EmailService struct {
	DB    *gorm.DB
	Relay mail.Relay
	// StubMode records what would have been sent without contacting the relay.
	StubMode bool
	From     string
	Town     config.TownConfig
	// Location formats the date shown in templates. Nil means UTC.
	Location  *time.Location
	Templates *TemplateService

	MaxAttempts int
	// NewBackOff builds the retry schedule. Nil means exponential from 500ms.
	NewBackOff func() backoff.BackOff
	Now        func() time.Time
}

// NewEmailService wires an EmailService from configuration. relay may be nil
// in stub mode.
func NewEmailService(db *gorm.DB, relay mail.Relay, cfg config.MailConfig, town config.TownConfig, loc *time.Location) *EmailService {
	return &EmailService{
		DB:          db,
		Relay:       relay,
		StubMode:    cfg.StubMode,
		From:        cfg.FromAddress,
		Town:        town,
		Location:    loc,
		Templates:   &TemplateService{DB: db},
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Dispatch sends emailType to recipient for callID and returns the outcome
// of the last attempt. A permanent failure (unknown template, invalid
// recipient, relay rejection) is returned as ErrUnknownTemplate or
// ErrPermanentDispatch; exhausted transient retries return the relay error.
// In every case the attempts are already in the dispatch log.
func (s *EmailService) Dispatch(ctx context.Context, callID string, emailType domain.EmailType, recipient string) (domain.DispatchOutcome, error) {
	tr := otel.Tracer("services/EmailService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("call.id", callID),
			attribute.String("email.type", string(emailType)),
			attribute.Bool("email.stub", s.StubMode),
		),
	)
	defer span.End()

	recipient = strings.TrimSpace(recipient)
	outcome, err := s.dispatch(ctx, callID, emailType, recipient)
	span.SetAttributes(attribute.String("email.outcome", string(outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (s *EmailService) dispatch(ctx context.Context, callID string, emailType domain.EmailType, recipient string) (domain.DispatchOutcome, error) {
	if !emailType.Valid() {
		return s.fail(ctx, callID, emailType, recipient, 1, "unknown template", ErrUnknownTemplate)
	}
	if !validRecipient(recipient) {
		return s.fail(ctx, callID, emailType, recipient, 1,
			"invalid recipient address", ErrPermanentDispatch)
	}

	tpl, err := s.Templates.Resolve(ctx, emailType)
	if err != nil {
		// Overrides are optional; a storage hiccup falls back to the built-in.
		zerolog.Ctx(ctx).Warn().Err(err).Str("email_type", string(emailType)).Msg("template override unavailable; using default")
	}
	data := mail.Data{
		Town:      s.Town,
		CallID:    callID,
		Recipient: recipient,
		Date:      now(s.Now).In(s.location()).Format("January 2, 2006"),
	}
	if rec, err := repo.GetCall(ctx, s.DB, callID); err == nil && rec.CallerPhone != nil {
		data.CallerPhone = *rec.CallerPhone
	}
	subject, body, err := mail.Render(tpl, data)
	if err != nil {
		return s.fail(ctx, callID, emailType, recipient, 1, err.Error(), ErrPermanentDispatch)
	}
	msg := mail.Message{From: s.From, To: recipient, Subject: subject, Body: body}

	if s.StubMode {
		detail := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", msg.From, msg.To, msg.Subject, msg.Body)
		if err := s.log(ctx, callID, emailType, msg.To, 1, domain.OutcomeStubbed, detail); err != nil {
			return domain.OutcomeFailed, err
		}
		s.markSent(ctx, callID)
		return domain.OutcomeStubbed, nil
	}
	if s.Relay == nil {
		return s.fail(ctx, callID, emailType, msg.To, 1, "no mail relay configured", ErrPermanentDispatch)
	}
	return s.deliver(ctx, callID, emailType, msg)
}

func (s *EmailService) deliver(ctx context.Context, callID string, emailType domain.EmailType, msg mail.Message) (domain.DispatchOutcome, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		attempt int
		lastErr error
		logErr  error
	)
	op := func() (string, error) {
		attempt++
		receipt, err := s.Relay.Send(ctx, msg)
		if err == nil {
			if logErr = s.log(ctx, callID, emailType, msg.To, attempt, domain.OutcomeSent, receipt); logErr != nil {
				return "", backoff.Permanent(logErr)
			}
			return receipt, nil
		}
		lastErr = err
		if logErr = s.log(ctx, callID, emailType, msg.To, attempt, domain.OutcomeFailed, err.Error()); logErr != nil {
			return "", backoff.Permanent(logErr)
		}
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("call_id", callID).
			Int("attempt", attempt).
			Bool("transient", mail.IsTransient(err)).
			Msg("email relay attempt failed")
		if !mail.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	switch {
	case logErr != nil:
		return domain.OutcomeFailed, logErr
	case err == nil:
		s.markSent(ctx, callID)
		return domain.OutcomeSent, nil
	case lastErr != nil && !mail.IsTransient(lastErr):
		return domain.OutcomeFailed, fmt.Errorf("%w: %w", ErrPermanentDispatch, lastErr)
	case lastErr != nil:
		return domain.OutcomeFailed, lastErr
	default:
		return domain.OutcomeFailed, err
	}
}

// fail logs a single failed attempt and returns cause.
func (s *EmailService) fail(ctx context.Context, callID string, emailType domain.EmailType, recipient string, attempt int, detail string, cause error) (domain.DispatchOutcome, error) {
	if err := s.log(ctx, callID, emailType, recipient, attempt, domain.OutcomeFailed, detail); err != nil {
		return domain.OutcomeFailed, errors.Join(cause, err)
	}
	return domain.OutcomeFailed, cause
}

func (s *EmailService) log(ctx context.Context, callID string, emailType domain.EmailType, recipient string, attempt int, outcome domain.DispatchOutcome, detail string) error {
	observability.DispatchAttempts.WithLabelValues(metricEmailType(emailType), string(outcome)).Inc()
	// A canceled request context must not cost us the audit row.
	ctx = context.WithoutCancel(ctx)
	return repo.AppendDispatchLog(ctx, s.DB, &domain.EmailDispatchLog{
		CallID:      callID,
		EmailType:   string(emailType),
		Recipient:   recipient,
		Attempt:     attempt,
		AttemptedAt: now(s.Now),
		Outcome:     outcome,
		Detail:      detail,
	})
}

func (s *EmailService) markSent(ctx context.Context, callID string) {
	err := repo.MarkEmailSent(context.WithoutCancel(ctx), s.DB, callID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("call_id", callID).Msg("mark email_sent failed")
	}
}

func (s *EmailService) backOff() backoff.BackOff {
	if s.NewBackOff != nil {
		return s.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func (s *EmailService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// metricEmailType keeps label cardinality bounded for unknown inputs.
func metricEmailType(t domain.EmailType) string {
	if t.Valid() {
		return string(t)
	}
	return "unknown"
}
