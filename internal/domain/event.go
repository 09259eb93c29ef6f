package domain

import "time"

// EventKind classifies a webhook delivery.
type EventKind string

const (
	KindTranscript   EventKind = "transcript"
	KindEmailRequest EventKind = "email_request"
	KindAlert        EventKind = "alert"
	KindTransfer     EventKind = "transfer"
)

// Event is a decoded, validated webhook delivery. The concrete types below
// form a closed set; each carries the fields its kind requires and knows
// which partial CallRecord fields it contributes.
type Event interface {
	Kind() EventKind
	Call() string
	Patch() CallPatch
}

// TranscriptEvent is the terminal call-ended event.
type TranscriptEvent struct {
	CallID          string
	CallerPhone     string
	Transcript      string
	DurationSeconds *int
	OccurredAt      *time.Time
	Transferred     bool
	Sentiment       Sentiment
}

func (e TranscriptEvent) Kind() EventKind { return KindTranscript }
func (e TranscriptEvent) Call() string    { return e.CallID }

func (e TranscriptEvent) Patch() CallPatch {
	t := e.Transcript
	return CallPatch{
		CallerPhone:     optional(e.CallerPhone),
		Transcript:      &t,
		DurationSeconds: e.DurationSeconds,
		OccurredAt:      e.OccurredAt,
		Transferred:     e.Transferred,
		Sentiment:       e.Sentiment,
		Terminal:        true,
	}
}

// EmailRequestEvent asks for a templated email to be sent to Recipient.
type EmailRequestEvent struct {
	CallID      string
	CallerPhone string
	EmailType   EmailType
	Recipient   string
}

func (e EmailRequestEvent) Kind() EventKind { return KindEmailRequest }
func (e EmailRequestEvent) Call() string    { return e.CallID }

func (e EmailRequestEvent) Patch() CallPatch {
	return CallPatch{CallerPhone: optional(e.CallerPhone)}
}

// AlertRequestEvent asks the notifier to evaluate one alert condition.
type AlertRequestEvent struct {
	CallID      string
	CallerPhone string
	AlertType   AlertType
	Transcript  string
	Details     string
}

func (e AlertRequestEvent) Kind() EventKind { return KindAlert }
func (e AlertRequestEvent) Call() string    { return e.CallID }

func (e AlertRequestEvent) Patch() CallPatch {
	return CallPatch{CallerPhone: optional(e.CallerPhone)}
}

// TransferRequestEvent reports that the call was handed to a live agent.
type TransferRequestEvent struct {
	CallID       string
	CallerPhone  string
	TargetNumber string
	Reason       string
	Notes        string
}

func (e TransferRequestEvent) Kind() EventKind { return KindTransfer }
func (e TransferRequestEvent) Call() string    { return e.CallID }

func (e TransferRequestEvent) Patch() CallPatch {
	return CallPatch{CallerPhone: optional(e.CallerPhone), Transferred: true}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
