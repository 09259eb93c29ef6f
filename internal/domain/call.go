// Package domain defines the persistence models for the call archive: one
// CallRecord per call, its append-only audit trail (email dispatches, alerts,
// transfers), and the ingestion receipts used for webhook deduplication.
// These types are mapped with GORM and shared across the repository and
// service layers.
package domain

import (
	"strings"
	"time"
)

// Sentiment is the caller sentiment reported by the voice platform.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

// ParseSentiment maps a free-form platform value onto the enumeration.
// Anything outside the known set is treated as SentimentUnknown.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNeutral:
		return SentimentNeutral
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentUnknown
	}
}

// Known reports whether s carries information (i.e. is not unknown or empty).
func (s Sentiment) Known() bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}

// CallStatus is the lifecycle state of a call record. It only moves
// open → closed.
type CallStatus string

const (
	StatusOpen   CallStatus = "open"
	StatusClosed CallStatus = "closed"
)

// CallRecord is the single durable row kept per call identifier.
//
// Fields:
//   - CallID: source-assigned identifier, primary key.
//   - CallerPhone: normalized E.164-ish number, nil when never reported.
//   - Transcript / DurationSeconds: nil until the terminal event arrives,
//     immutable afterwards.
//   - OccurredAt: latest event time reported by the source. While no event
//     has reported one, it holds the receive time and OccurredEstimated is set.
//   - ReceivedAt: first time any event for the call was accepted.
//   - Transferred / EmailSent: sticky flags, never reset.
//   - Sentiment: last known sentiment; unknown never overwrites a known value.
//   - Status: open until the terminal event, then closed forever.
type CallRecord struct {
	CallID            string     `json:"call_id"               gorm:"type:varchar(128);primaryKey"`
	CallerPhone       *string    `json:"caller_phone,omitempty" gorm:"type:varchar(32);index:idx_calls_phone"`
	Transcript        *string    `json:"transcript,omitempty"   gorm:"type:text"`
	DurationSeconds   *int       `json:"duration_seconds,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"           gorm:"not null;index:idx_calls_occurred"`
	OccurredEstimated bool       `json:"occurred_estimated"    gorm:"not null"`
	ReceivedAt        time.Time  `json:"received_at"           gorm:"not null"`
	Transferred       bool       `json:"transferred"           gorm:"not null"`
	EmailSent         bool       `json:"email_sent"            gorm:"not null"`
	Sentiment         Sentiment  `json:"sentiment"             gorm:"type:varchar(16);not null;check:sentiment IN ('positive','neutral','negative','unknown')"`
	Status            CallStatus `json:"status"                gorm:"type:varchar(8);not null;check:status IN ('open','closed')"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for CallRecord.
func (CallRecord) TableName() string { return "call_records" }

// NewCallRecord returns the empty record created on the first merge for a call.
func NewCallRecord(callID string, now time.Time) CallRecord {
	now = now.UTC()
	return CallRecord{
		CallID:            callID,
		OccurredAt:        now,
		OccurredEstimated: true,
		ReceivedAt:        now,
		Sentiment:         SentimentUnknown,
		Status:            StatusOpen,
	}
}

// RetainUntil is the earliest instant at which the record may be deleted.
func (r CallRecord) RetainUntil(horizon time.Duration) time.Time {
	return r.OccurredAt.Add(horizon)
}

// CallPatch carries the partial fields one event contributes to a record.
// Nil pointers and zero values mean "not reported".
type CallPatch struct {
	CallerPhone     *string
	Transcript      *string
	DurationSeconds *int
	OccurredAt      *time.Time
	Transferred     bool
	Sentiment       Sentiment
	// Terminal marks the call-ended event that closes the record.
	Terminal bool
}

// Apply folds p into r using the field-level merge policy. Every rule is
// order-insensitive so events for one call can arrive in any order.
//
// It returns true when p is a terminal event whose transcript disagrees with
// the one already stored on a closed record; the conflicting values are not
// applied and the caller is expected to flag the anomaly.
func (r *CallRecord) Apply(p CallPatch) (conflict bool) {
	if p.CallerPhone != nil && *p.CallerPhone != "" && r.CallerPhone == nil {
		v := *p.CallerPhone
		r.CallerPhone = &v
	}

	if p.OccurredAt != nil {
		t := p.OccurredAt.UTC()
		if r.OccurredEstimated || t.After(r.OccurredAt) {
			r.OccurredAt = t
			r.OccurredEstimated = false
		}
	}

	r.Transferred = r.Transferred || p.Transferred

	if p.Sentiment.Known() {
		r.Sentiment = p.Sentiment
	}

	if p.Terminal {
		if r.Status == StatusClosed {
			return p.Transcript != nil && r.Transcript != nil && *p.Transcript != *r.Transcript
		}
		if r.Transcript == nil && p.Transcript != nil {
			v := *p.Transcript
			r.Transcript = &v
		}
		if r.DurationSeconds == nil && p.DurationSeconds != nil {
			v := *p.DurationSeconds
			if v < 0 {
				v = 0
			}
			r.DurationSeconds = &v
		}
		r.Status = StatusClosed
	}
	return false
}

// NormalizePhone reduces a phone number to '+' followed by digits. Ten-digit
// numbers are assumed to be North American. It returns "" when no digits
// remain.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(raw, "+"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return digits
	}
}
