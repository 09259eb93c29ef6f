package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/repo"
)

func dispatchRows(t *testing.T, h *harness, callID string) []domain.EmailDispatchLog {
	t.Helper()
	rows, err := repo.ListDispatchLogs(context.Background(), h.db, callID)
	if err != nil {
		t.Fatalf("ListDispatchLogs: %v", err)
	}
	return rows
}

func TestDispatch_StubMode_NoNetworkAndContentCaptured(t *testing.T) {
	h := newHarness(t, newSvcDB(t), true)
	h.email.Now = fixedClock(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))

	outcome, err := h.email.Dispatch(context.Background(), "c1", domain.EmailPaymentLink, "test@example.com")
	if err != nil || outcome != domain.OutcomeStubbed {
		t.Fatalf("Dispatch = %q, %v; want stubbed", outcome, err)
	}
	if h.relay.calls() != 0 {
		t.Fatalf("stub mode made %d relay calls", h.relay.calls())
	}
	rows := dispatchRows(t, h, "c1")
	if len(rows) != 1 || rows[0].Outcome != domain.OutcomeStubbed || rows[0].Recipient != "test@example.com" {
		t.Fatalf("rows = %+v", rows)
	}
	for _, want := range []string{
		"Subject: Town of Braselton Water/Sewer - Online Payment Link",
		"https://braselton.net/pay",
		"To: test@example.com",
	} {
		if !strings.Contains(rows[0].Detail, want) {
			t.Fatalf("detail missing %q:\n%s", want, rows[0].Detail)
		}
	}
}

func TestDispatch_UnknownTemplate_FailedRowNoRelay(t *testing.T) {
	h := newHarness(t, newSvcDB(t), false)

	outcome, err := h.email.Dispatch(context.Background(), "c1", domain.EmailType("newsletter"), "a@example.com")
	if !errors.Is(err, ErrUnknownTemplate) || outcome != domain.OutcomeFailed {
		t.Fatalf("Dispatch = %q, %v", outcome, err)
	}
	rows := dispatchRows(t, h, "c1")
	if len(rows) != 1 || rows[0].Detail != "unknown template" {
		t.Fatalf("rows = %+v", rows)
	}
	if h.relay.calls() != 0 {
		t.Fatalf("relay called for unknown template")
	}
}

func TestDispatch_InvalidRecipient_Permanent(t *testing.T) {
	for _, addr := range []string{"not-an-address", "a@", "Resident <resident@example.com>", "two@example.com, three@example.com"} {
		t.Run(addr, func(t *testing.T) {
			h := newHarness(t, newSvcDB(t), false)

			_, err := h.email.Dispatch(context.Background(), "c1", domain.EmailGeneralInfo, addr)
			if !errors.Is(err, ErrPermanentDispatch) {
				t.Fatalf("expected ErrPermanentDispatch, got %v", err)
			}
			rows := dispatchRows(t, h, "c1")
			if len(rows) != 1 || rows[0].Outcome != domain.OutcomeFailed || rows[0].Detail != "invalid recipient address" {
				t.Fatalf("rows = %+v", rows)
			}
			if h.relay.calls() != 0 {
				t.Fatalf("relay called for invalid recipient")
			}
		})
	}
}

func TestDispatch_TransientRetriedUntilExhausted(t *testing.T) {
	h := newHarness(t, newSvcDB(t), false)
	outage := mail.Transient(503, errors.New("service unavailable"))
	h.relay.results = []error{outage, outage, outage, outage}

	outcome, err := h.email.Dispatch(context.Background(), "c1", domain.EmailPaymentLink, "a@example.com")
	if outcome != domain.OutcomeFailed || err == nil {
		t.Fatalf("Dispatch = %q, %v", outcome, err)
	}
	if errors.Is(err, ErrPermanentDispatch) || !mail.IsTransient(err) {
		t.Fatalf("exhausted retries should surface the transient error, got %v", err)
	}
	if h.relay.calls() != 3 {
		t.Fatalf("relay calls = %d; want 3", h.relay.calls())
	}
	rows := dispatchRows(t, h, "c1")
	if len(rows) != 3 {
		t.Fatalf("rows = %d; want one per attempt", len(rows))
	}
	for i, r := range rows {
		if r.Attempt != i+1 || r.Outcome != domain.OutcomeFailed {
			t.Fatalf("row %d = %+v", i, r)
		}
	}
}

func TestDispatch_TransientThenSent_MarksRecord(t *testing.T) {
	h := newHarness(t, newSvcDB(t), false)
	rec := domain.NewCallRecord("c1", time.Now())
	if err := h.db.Create(&rec).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.relay.results = []error{mail.Transient(0, errors.New("connection reset")), nil}

	outcome, err := h.email.Dispatch(context.Background(), "c1", domain.EmailAdjustmentForm, "resident@example.com")
	if err != nil || outcome != domain.OutcomeSent {
		t.Fatalf("Dispatch = %q, %v", outcome, err)
	}
	rows := dispatchRows(t, h, "c1")
	if len(rows) != 2 || rows[0].Outcome != domain.OutcomeFailed || rows[1].Outcome != domain.OutcomeSent {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[1].Detail != "email-1" || rows[1].Recipient != "resident@example.com" {
		t.Fatalf("sent row = %+v", rows[1])
	}
	if got := mustCall(t, h.db, "c1"); !got.EmailSent {
		t.Fatalf("email_sent not set")
	}
	if h.relay.sent[1].From != "utilitybilling@braselton.net" {
		t.Fatalf("from = %q", h.relay.sent[1].From)
	}
}

func TestDispatch_PermanentNotRetried(t *testing.T) {
	h := newHarness(t, newSvcDB(t), false)
	h.relay.results = []error{mail.Permanent(550, errors.New("mailbox unavailable"))}

	_, err := h.email.Dispatch(context.Background(), "c1", domain.EmailPaymentLink, "gone@example.com")
	if !errors.Is(err, ErrPermanentDispatch) {
		t.Fatalf("expected ErrPermanentDispatch, got %v", err)
	}
	if h.relay.calls() != 1 || len(dispatchRows(t, h, "c1")) != 1 {
		t.Fatalf("permanent failure was retried")
	}
}

func TestDispatch_UsesAdminOverride(t *testing.T) {
	h := newHarness(t, newSvcDB(t), true)
	ctx := context.Background()
	if _, err := h.email.Templates.Update(ctx, domain.EmailPaymentLink, "Pay online (ref {{.CallID}})", ""); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := h.email.Dispatch(ctx, "c9", domain.EmailPaymentLink, "a@example.com"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	detail := dispatchRows(t, h, "c9")[0].Detail
	if !strings.Contains(detail, "Subject: Pay online (ref c9)") {
		t.Fatalf("override subject not used:\n%s", detail)
	}
	if !strings.Contains(detail, "https://braselton.net/pay") {
		t.Fatalf("blank body did not fall back to default:\n%s", detail)
	}
}

func TestDispatch_BrokenOverrideIsPermanent(t *testing.T) {
	h := newHarness(t, newSvcDB(t), true)
	ctx := context.Background()
	// Parses, but references a field that does not exist.
	if _, err := h.email.Templates.Update(ctx, domain.EmailGeneralInfo, "", "Hi {{.Nickname}}"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	_, err := h.email.Dispatch(ctx, "c1", domain.EmailGeneralInfo, "a@example.com")
	if !errors.Is(err, ErrPermanentDispatch) {
		t.Fatalf("expected ErrPermanentDispatch, got %v", err)
	}
	if rows := dispatchRows(t, h, "c1"); len(rows) != 1 || rows[0].Outcome != domain.OutcomeFailed {
		t.Fatalf("rows = %+v", rows)
	}
}
