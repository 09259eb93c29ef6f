// Webhook payload decoding.
//
// The voice platform delivers two shapes for every endpoint. The flat shape
// carries the fields at the top level ({"call_id": ..., "email_type": ...}).
// The platform's own shapes wrap them: the call_ended event nests the call
// under "call", and tool-call webhooks nest the arguments under "args" next
// to the "call" they belong to. Decoding normalizes both into a domain.Event
// so nothing below the handler sees transport shapes.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/services"
	"github.com/tbourn/callvault/internal/sysutil"
)

// callEnded is the only platform lifecycle event the archive stores.
const callEnded = "call_ended"

// epochMillisFloor is 1e11: as milliseconds that is March 1973, as seconds
// the year 5138.
const epochMillisFloor = 1e11

// decoded is one parsed delivery. ignored is set for a well-formed platform
// event the archive does not track; event is nil in that case.
type decoded struct {
	event   domain.Event
	eventID string
	ignored bool
	name    string
}

// decodeFunc parses a raw body. Errors are *services.ValidationError.
type decodeFunc func(raw []byte) (decoded, error)

// platformCall is the call object the platform attaches to its events.
type platformCall struct {
	CallID              string         `json:"call_id"`
	Transcript          string         `json:"transcript"`
	ToolCallTurns       []platformTurn `json:"transcript_with_tool_calls"`
	FromNumber          string         `json:"from_number"`
	StartTimestamp      *float64       `json:"start_timestamp"`
	EndTimestamp        *float64       `json:"end_timestamp"`
	RecordingURL        string         `json:"recording_url"`
	PublicLogURL        string         `json:"public_log_url"`
	DisconnectionReason string         `json:"disconnection_reason"`
	CallAnalysis        struct {
		UserSentiment string `json:"user_sentiment"`
	} `json:"call_analysis"`
}

type platformTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// stitchTurns renders tool-call turns as "Role: content" lines.
func stitchTurns(turns []platformTurn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role, content := strings.TrimSpace(t.Role), strings.TrimSpace(t.Content)
		if role == "" || content == "" {
			continue
		}
		r := []rune(strings.ToLower(role))
		r[0] = unicode.ToUpper(r[0])
		lines = append(lines, string(r)+": "+content)
	}
	return strings.Join(lines, "\n")
}

// missingTranscript is stored when the platform sent no transcript at all.
func missingTranscript(recordingURL string) string {
	const note = "Transcript not provided by the platform. "
	if recordingURL == "" {
		return note + "No recording URL supplied."
	}
	return note + "Reference recording: " + recordingURL
}

// flexTime accepts RFC 3339 strings and epoch timestamps. Numbers below
// epochMillisFloor are read as seconds, anything larger as milliseconds.
type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		return nil
	}
	bad := &services.ValidationError{Field: "occurred_at", Reason: "must be RFC 3339 or an epoch timestamp"}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return bad
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return bad
		}
		t = t.UTC()
		f.t = &t
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil || n < 0 || math.IsInf(n, 0) {
		return bad
	}
	ms := n
	if n < epochMillisFloor {
		ms = n * 1000
	}
	t := time.UnixMilli(int64(ms)).UTC()
	f.t = &t
	return nil
}

// flexBool accepts JSON booleans, numbers, and truthy strings ("yes", "1").
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*f = flexBool(x)
	case float64:
		*f = x != 0
	case string:
		*f = flexBool(sysutil.IsTruthy(x))
	case nil:
		*f = false
	default:
		return &services.ValidationError{Field: "transferred", Reason: "must be a boolean"}
	}
	return nil
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := services.RegisterRules(v); err != nil {
			panic(err)
		}
	}
}

// decodeJSON binds raw into v and runs its binding rules, turning every
// failure into a *services.ValidationError that names the offending field
// when it can.
func decodeJSON(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &services.ValidationError{Field: "body", Reason: "is empty"}
	}
	err := binding.JSON.BindBody(raw, v)
	if err == nil {
		return nil
	}
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var fe validator.ValidationErrors
	if errors.As(err, &fe) {
		return services.AsValidationError(fe)
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return &services.ValidationError{Field: te.Field, Reason: fmt.Sprintf("must be a %s", te.Type.Kind())}
	}
	return &services.ValidationError{Field: "body", Reason: "malformed JSON"}
}

// toolCall is the platform's tool-call envelope.
type toolCall struct {
	Args json.RawMessage `json:"args"`
	Call *platformCall   `json:"call"`
}

// unwrapArgs returns the tool-call arguments and the enclosing call when raw
// is an envelope, or raw itself for a flat payload.
func unwrapArgs(raw []byte) ([]byte, *platformCall, error) {
	var env toolCall
	if err := decodeJSON(raw, &env); err != nil {
		return nil, nil, err
	}
	call := env.Call
	if call == nil {
		call = &platformCall{}
	}
	if a := bytes.TrimSpace(env.Args); len(a) > 0 && !bytes.Equal(a, []byte("null")) {
		return a, call, nil
	}
	return raw, call, nil
}

type transcriptBody struct {
	EventID         string        `json:"event_id"`
	Event           *string       `json:"event"`
	CallID          string        `json:"call_id"          binding:"max=128"`
	CallerPhone     string        `json:"caller_phone"`
	DurationSeconds *float64      `json:"duration_seconds"`
	Transcript      string        `json:"transcript"`
	OccurredAt      flexTime      `json:"occurred_at"`
	Transferred     flexBool      `json:"transferred"`
	Sentiment       string        `json:"sentiment"`
	Call            *platformCall `json:"call"`
}

func decodeTranscript(raw []byte) (decoded, error) {
	var b transcriptBody
	if err := decodeJSON(raw, &b); err != nil {
		return decoded{}, err
	}

	if b.Event != nil || b.Call != nil {
		name := ""
		if b.Event != nil {
			name = strings.TrimSpace(*b.Event)
		}
		if name != callEnded {
			return decoded{ignored: true, name: name}, nil
		}
		if b.Call == nil {
			return decoded{}, &services.ValidationError{Field: "call.call_id", Reason: "is required"}
		}
		return decoded{event: fromPlatformCall(*b.Call), eventID: b.EventID, name: name}, nil
	}

	ev := domain.TranscriptEvent{
		CallID:      strings.TrimSpace(b.CallID),
		CallerPhone: domain.NormalizePhone(b.CallerPhone),
		Transcript:  strings.TrimSpace(b.Transcript),
		OccurredAt:  b.OccurredAt.t,
		Transferred: bool(b.Transferred),
		Sentiment:   domain.ParseSentiment(b.Sentiment),
	}
	if b.DurationSeconds != nil {
		d := *b.DurationSeconds
		if d < 0 || math.IsNaN(d) || d > math.MaxInt32 {
			return decoded{}, &services.ValidationError{Field: "duration_seconds", Reason: "must be a non-negative number"}
		}
		n := int(d)
		ev.DurationSeconds = &n
	}
	if ev.Transcript == "" {
		ev.Transcript = missingTranscript("")
	}
	return decoded{event: ev, eventID: b.EventID}, nil
}

// fromPlatformCall maps a call_ended payload. Duration is derived from the
// millisecond timestamps and the call's end time becomes occurred_at.
func fromPlatformCall(pc platformCall) domain.TranscriptEvent {
	ev := domain.TranscriptEvent{
		CallID:      strings.TrimSpace(pc.CallID),
		CallerPhone: domain.NormalizePhone(pc.FromNumber),
		Transcript:  strings.TrimSpace(pc.Transcript),
		Transferred: pc.DisconnectionReason == "call_transfer",
		Sentiment:   domain.ParseSentiment(pc.CallAnalysis.UserSentiment),
	}
	if ev.Transcript == "" {
		ev.Transcript = stitchTurns(pc.ToolCallTurns)
	}
	if ev.Transcript == "" {
		ev.Transcript = missingTranscript(sysutil.FirstNonEmpty(pc.RecordingURL, pc.PublicLogURL))
	}
	if pc.StartTimestamp != nil && pc.EndTimestamp != nil {
		d := int((*pc.EndTimestamp - *pc.StartTimestamp) / 1000)
		ev.DurationSeconds = &d
		if d < 0 {
			*ev.DurationSeconds = 0
		}
	}
	if pc.EndTimestamp != nil && *pc.EndTimestamp > 0 {
		t := time.UnixMilli(int64(*pc.EndTimestamp)).UTC()
		ev.OccurredAt = &t
	}
	return ev
}

type emailArgs struct {
	EventID     string `json:"event_id"`
	CallID      string `json:"call_id"      binding:"max=128"`
	CallerPhone string `json:"caller_phone"`
	EmailType   string `json:"email_type"   binding:"omitempty,email_type"`
	UserEmail   string `json:"user_email"   binding:"required,max=254"`
}

func decodeEmail(raw []byte) (decoded, error) {
	args, call, err := unwrapArgs(raw)
	if err != nil {
		return decoded{}, err
	}
	var a emailArgs
	if err := decodeJSON(args, &a); err != nil {
		return decoded{}, err
	}
	t := domain.EmailType(strings.TrimSpace(a.EmailType))
	if t == "" {
		t = domain.EmailPaymentLink
	}
	return decoded{
		eventID: a.EventID,
		event: domain.EmailRequestEvent{
			CallID:      strings.TrimSpace(sysutil.FirstNonEmpty(a.CallID, call.CallID)),
			CallerPhone: domain.NormalizePhone(sysutil.FirstNonEmpty(a.CallerPhone, call.FromNumber)),
			EmailType:   t,
			Recipient:   strings.TrimSpace(a.UserEmail),
		},
	}, nil
}

type alertArgs struct {
	EventID     string `json:"event_id"`
	AlertType   string `json:"alert_type"   binding:"required,alert_type"`
	CallID      string `json:"call_id"      binding:"max=128"`
	CallerPhone string `json:"caller_phone"`
	Transcript  string `json:"transcript"`
	Details     string `json:"details"`
}

func decodeAlert(raw []byte) (decoded, error) {
	args, call, err := unwrapArgs(raw)
	if err != nil {
		return decoded{}, err
	}
	var a alertArgs
	if err := decodeJSON(args, &a); err != nil {
		return decoded{}, err
	}
	return decoded{
		eventID: a.EventID,
		event: domain.AlertRequestEvent{
			CallID:      strings.TrimSpace(sysutil.FirstNonEmpty(a.CallID, call.CallID)),
			CallerPhone: domain.NormalizePhone(sysutil.FirstNonEmpty(a.CallerPhone, call.FromNumber)),
			AlertType:   domain.AlertType(strings.TrimSpace(a.AlertType)),
			Transcript:  strings.TrimSpace(a.Transcript),
			Details:     strings.TrimSpace(a.Details),
		},
	}, nil
}

type transferArgs struct {
	EventID      string `json:"event_id"`
	CallID       string `json:"call_id"       binding:"max=128"`
	CallerPhone  string `json:"caller_phone"`
	FromNumber   string `json:"from_number"`
	TargetNumber string `json:"target_number"`
	Reason       string `json:"reason"`
	Notes        string `json:"notes"`
	Details      string `json:"details"`
}

func decodeTransfer(raw []byte) (decoded, error) {
	args, call, err := unwrapArgs(raw)
	if err != nil {
		return decoded{}, err
	}
	var a transferArgs
	if err := decodeJSON(args, &a); err != nil {
		return decoded{}, err
	}
	return decoded{
		eventID: a.EventID,
		event: domain.TransferRequestEvent{
			CallID:       strings.TrimSpace(sysutil.FirstNonEmpty(a.CallID, call.CallID)),
			CallerPhone:  domain.NormalizePhone(sysutil.FirstNonEmpty(a.CallerPhone, a.FromNumber, call.FromNumber)),
			TargetNumber: strings.TrimSpace(a.TargetNumber),
			Reason:       strings.TrimSpace(a.Reason),
			Notes:        sysutil.FirstNonEmpty(a.Notes, a.Details),
		},
	}, nil
}
