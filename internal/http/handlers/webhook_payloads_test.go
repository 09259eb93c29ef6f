package handlers

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/services"
)

func mustTranscript(t *testing.T, d decoded) domain.TranscriptEvent {
	t.Helper()
	ev, ok := d.event.(domain.TranscriptEvent)
	if !ok {
		t.Fatalf("event = %T; want TranscriptEvent", d.event)
	}
	return ev
}

func wantField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *services.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v; want *ValidationError", err)
	}
	if ve.Field != field {
		t.Fatalf("field = %q; want %q (%v)", ve.Field, field, err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("errors.Is(ErrValidation) = false")
	}
}

func TestDecodeTranscript_Flat(t *testing.T) {
	d, err := decodeTranscript([]byte(`{
		"event_id": "evt-1",
		"call_id": " call_1 ",
		"caller_phone": "(770) 555-0100",
		"duration_seconds": 42.9,
		"transcript": "Agent: hello",
		"occurred_at": "2025-03-01T14:00:00-05:00",
		"transferred": "yes",
		"sentiment": "Negative"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.ignored || d.eventID != "evt-1" {
		t.Fatalf("unexpected envelope: %+v", d)
	}
	ev := mustTranscript(t, d)
	if ev.CallID != "call_1" || ev.CallerPhone != "+17705550100" {
		t.Fatalf("ids: %+v", ev)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 42 {
		t.Fatalf("duration: %v", ev.DurationSeconds)
	}
	want := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	if ev.OccurredAt == nil || !ev.OccurredAt.Equal(want) || ev.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at: %v", ev.OccurredAt)
	}
	if !ev.Transferred || ev.Sentiment != domain.SentimentNegative || ev.Transcript != "Agent: hello" {
		t.Fatalf("fields: %+v", ev)
	}
}

func TestDecodeTranscript_FlatDefaults(t *testing.T) {
	d, err := decodeTranscript([]byte(`{"call_id":"call_2","occurred_at":1740837600000,"transferred":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev := mustTranscript(t, d)
	if !strings.HasPrefix(ev.Transcript, "Transcript not provided") || !strings.HasSuffix(ev.Transcript, "No recording URL supplied.") {
		t.Fatalf("transcript placeholder: %q", ev.Transcript)
	}
	if ev.OccurredAt == nil || ev.OccurredAt.UnixMilli() != 1740837600000 {
		t.Fatalf("epoch ms: %v", ev.OccurredAt)
	}
	if !ev.Transferred || ev.Sentiment != domain.SentimentUnknown || ev.DurationSeconds != nil {
		t.Fatalf("defaults: %+v", ev)
	}
}

func TestDecodeTranscript_PlatformEnvelope(t *testing.T) {
	d, err := decodeTranscript([]byte(`{
		"event": "call_ended",
		"call": {
			"call_id": "call_3",
			"from_number": "+1 770 555 0199",
			"start_timestamp": 1740837600000,
			"end_timestamp": 1740837665500,
			"disconnection_reason": "call_transfer",
			"transcript_with_tool_calls": [
				{"role": "agent", "content": "How can I help?"},
				{"role": "tool_call_invocation", "content": ""},
				{"role": "user", "content": "Pay my bill"}
			],
			"call_analysis": {"user_sentiment": "Positive"}
		}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.name != callEnded {
		t.Fatalf("name = %q", d.name)
	}
	ev := mustTranscript(t, d)
	if ev.CallID != "call_3" || ev.CallerPhone != "+17705550199" {
		t.Fatalf("ids: %+v", ev)
	}
	if ev.Transcript != "Agent: How can I help?\nUser: Pay my bill" {
		t.Fatalf("stitched transcript: %q", ev.Transcript)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 65 {
		t.Fatalf("duration: %v", ev.DurationSeconds)
	}
	if ev.OccurredAt == nil || ev.OccurredAt.UnixMilli() != 1740837665500 {
		t.Fatalf("occurred_at from end timestamp: %v", ev.OccurredAt)
	}
	if !ev.Transferred || ev.Sentiment != domain.SentimentPositive {
		t.Fatalf("flags: %+v", ev)
	}
}

func TestDecodeTranscript_EnvelopeFallbacks(t *testing.T) {
	d, err := decodeTranscript([]byte(`{
		"event": "call_ended",
		"call": {
			"call_id": "call_4",
			"start_timestamp": 2000,
			"end_timestamp": 1000,
			"recording_url": "https://rec.example/4.wav"
		}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev := mustTranscript(t, d)
	if !strings.HasSuffix(ev.Transcript, "Reference recording: https://rec.example/4.wav") {
		t.Fatalf("recording note: %q", ev.Transcript)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 0 {
		t.Fatalf("negative span should clamp to 0: %v", ev.DurationSeconds)
	}
	if ev.Transferred {
		t.Fatalf("transferred without call_transfer reason")
	}
}

func TestDecodeTranscript_IgnoresOtherPlatformEvents(t *testing.T) {
	for _, body := range []string{
		`{"event":"call_started","call":{"call_id":"c"}}`,
		`{"event":"call_analyzed"}`,
	} {
		d, err := decodeTranscript([]byte(body))
		if err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if !d.ignored || d.event != nil {
			t.Fatalf("%s: want ignored, got %+v", body, d)
		}
	}
}

func TestDecodeTranscript_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"empty", ``, "body"},
		{"whitespace", "  \n", "body"},
		{"malformed", `{"call_id":`, "body"},
		{"type mismatch", `{"call_id": 12}`, "call_id"},
		{"bad time string", `{"call_id":"c","occurred_at":"yesterday"}`, "occurred_at"},
		{"bad time value", `{"call_id":"c","occurred_at":true}`, "occurred_at"},
		{"negative duration", `{"call_id":"c","duration_seconds":-1}`, "duration_seconds"},
		{"bad transferred", `{"call_id":"c","transferred":{}}`, "transferred"},
		{"ended without call", `{"event":"call_ended"}`, "call.call_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeTranscript([]byte(tc.body))
			wantField(t, err, tc.field)
		})
	}
}

func TestDecodeEmail_FlatAndToolCall(t *testing.T) {
	d, err := decodeEmail([]byte(`{"call_id":"call_1","email_type":"adjustment_form","user_email":" a@b.co "}`))
	if err != nil {
		t.Fatalf("flat: %v", err)
	}
	ev := d.event.(domain.EmailRequestEvent)
	if ev.CallID != "call_1" || ev.EmailType != domain.EmailAdjustmentForm || ev.Recipient != "a@b.co" {
		t.Fatalf("flat: %+v", ev)
	}

	d, err = decodeEmail([]byte(`{
		"args": {"user_email": "c@d.co"},
		"call": {"call_id": "call_2", "from_number": "7705550100"}
	}`))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	ev = d.event.(domain.EmailRequestEvent)
	if ev.CallID != "call_2" || ev.CallerPhone != "+17705550100" {
		t.Fatalf("call fallbacks: %+v", ev)
	}
	if ev.EmailType != domain.EmailPaymentLink {
		t.Fatalf("default email type = %q", ev.EmailType)
	}
}

func TestDecodeEmail_ArgsWinOverCall(t *testing.T) {
	d, err := decodeEmail([]byte(`{
		"args": {"call_id": "from_args", "caller_phone": "+447700900123", "user_email": "x@y.co", "event_id": "e9"},
		"call": {"call_id": "from_call", "from_number": "7705550100"}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev := d.event.(domain.EmailRequestEvent)
	if ev.CallID != "from_args" || ev.CallerPhone != "+447700900123" || d.eventID != "e9" {
		t.Fatalf("args precedence: %+v %q", ev, d.eventID)
	}
}

func TestDecodeAlertAndTransfer(t *testing.T) {
	d, err := decodeAlert([]byte(`{"alert_type":"negative_sentiment","call_id":"c1","details":" angry "}`))
	if err != nil {
		t.Fatalf("alert: %v", err)
	}
	a := d.event.(domain.AlertRequestEvent)
	if a.AlertType != domain.AlertNegativeSentiment || a.Details != "angry" {
		t.Fatalf("alert: %+v", a)
	}

	d, err = decodeTransfer([]byte(`{
		"args": {"target_number": "+17705550111", "reason": "billing", "details": "wants manager"},
		"call": {"call_id": "c2", "from_number": "+17705550100"}
	}`))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	tr := d.event.(domain.TransferRequestEvent)
	if tr.CallID != "c2" || tr.CallerPhone != "+17705550100" || tr.TargetNumber != "+17705550111" {
		t.Fatalf("transfer ids: %+v", tr)
	}
	if tr.Reason != "billing" || tr.Notes != "wants manager" {
		t.Fatalf("notes fall back to details: %+v", tr)
	}

	if _, err := decodeTransfer([]byte(`{"call_id": ["x"]}`)); err == nil {
		t.Fatalf("want type error")
	} else {
		wantField(t, err, "call_id")
	}
}

func TestStitchTurns_Unicode(t *testing.T) {
	got := stitchTurns([]platformTurn{{Role: "élu", Content: "bonjour"}, {Role: " ", Content: "x"}})
	if got != "Élu: bonjour" {
		t.Fatalf("stitchTurns = %q", got)
	}
}

func TestFlexTime_EpochUnits(t *testing.T) {
	want := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		body string
		want time.Time
	}{
		{"milliseconds", `1740837600000`, want},
		{"seconds", `1740837600`, want},
		{"fractional seconds", `1740837600.5`, want.Add(500 * time.Millisecond)},
		{"rfc3339", `"2025-03-01T09:00:00-05:00"`, want},
		{"zero", `0`, time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f flexTime
			if err := f.UnmarshalJSON([]byte(tc.body)); err != nil {
				t.Fatalf("UnmarshalJSON: %v", err)
			}
			if f.t == nil || !f.t.Equal(tc.want) {
				t.Fatalf("got %v; want %v", f.t, tc.want)
			}
		})
	}

	d, err := decodeTranscript([]byte(`{"call_id":"c","occurred_at":1740837600}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev := mustTranscript(t, d); ev.OccurredAt == nil || ev.OccurredAt.Year() != 2025 {
		t.Fatalf("epoch seconds read as milliseconds: %v", ev.OccurredAt)
	}

	var f flexTime
	wantField(t, f.UnmarshalJSON([]byte(`-5`)), "occurred_at")
}

func TestDecode_BindingRules(t *testing.T) {
	long := strings.Repeat("x", 129)
	cases := []struct {
		name   string
		decode decodeFunc
		body   string
		field  string
		reason string
	}{
		{"transcript call id too long", decodeTranscript, `{"call_id":"` + long + `"}`, "call_id", "must be at most 128 characters"},
		{"email without recipient", decodeEmail, `{"call_id":"c","email_type":"general_info"}`, "user_email", "is required"},
		{"email tool call unknown template", decodeEmail, `{"args":{"email_type":"newsletter","user_email":"a@b.co"},"call":{"call_id":"c"}}`, "email_type", `unknown template "newsletter"`},
		{"alert without type", decodeAlert, `{"call_id":"c"}`, "alert_type", "is required"},
		{"alert unknown type", decodeAlert, `{"call_id":"c","alert_type":"fire"}`, "alert_type", `unknown alert type "fire"`},
		{"transfer call id too long", decodeTransfer, `{"args":{"call_id":"` + long + `"}}`, "call_id", "must be at most 128 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.decode([]byte(tc.body))
			wantField(t, err, tc.field)
			var ve *services.ValidationError
			errors.As(err, &ve)
			if ve.Reason != tc.reason {
				t.Fatalf("reason = %q; want %q", ve.Reason, tc.reason)
			}
		})
	}

	d, err := decodeAlert([]byte(`{"call_id":"c","alert_type":" abandoned_call "}`))
	if err != nil {
		t.Fatalf("padded alert type: %v", err)
	}
	if a := d.event.(domain.AlertRequestEvent); a.AlertType != domain.AlertAbandonedCall {
		t.Fatalf("alert type = %q", a.AlertType)
	}
}
