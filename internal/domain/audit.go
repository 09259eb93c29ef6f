package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EmailType names one of the outbound email templates.
type EmailType string

const (
	EmailPaymentLink    EmailType = "payment_link"
	EmailAdjustmentForm EmailType = "adjustment_form"
	EmailGeneralInfo    EmailType = "general_info"
)

// EmailTypes lists the known templates in display order.
var EmailTypes = []EmailType{EmailPaymentLink, EmailAdjustmentForm, EmailGeneralInfo}

// Valid reports whether t is one of the known templates.
func (t EmailType) Valid() bool {
	for _, k := range EmailTypes {
		if t == k {
			return true
		}
	}
	return false
}

// DispatchOutcome is the recorded result of one dispatch attempt.
type DispatchOutcome string

const (
	OutcomeSent    DispatchOutcome = "sent"
	OutcomeStubbed DispatchOutcome = "stubbed"
	OutcomeFailed  DispatchOutcome = "failed"
)

// EmailDispatchLog is one append-only row per dispatch attempt. Retries never
// update a row; each attempt writes its own, so the table is a full audit
// trail of what was sent, simulated, or lost.
type EmailDispatchLog struct {
	ID          string          `json:"id"           gorm:"type:char(26);primaryKey"`
	CallID      string          `json:"call_id"      gorm:"type:varchar(128);not null;index:idx_dispatch_call,priority:1"`
	EmailType   string          `json:"email_type"   gorm:"type:varchar(64);not null"`
	Recipient   string          `json:"recipient"    gorm:"type:varchar(255);not null"`
	Attempt     int             `json:"attempt"      gorm:"not null"`
	AttemptedAt time.Time       `json:"attempted_at" gorm:"not null;index:idx_dispatch_call,priority:2"`
	Outcome     DispatchOutcome `json:"outcome"      gorm:"type:varchar(16);not null;check:outcome IN ('sent','stubbed','failed')"`
	Detail      string          `json:"detail"       gorm:"type:text"`
}

// TableName returns the database table name for EmailDispatchLog.
func (EmailDispatchLog) TableName() string { return "email_dispatch_logs" }

// AlertType names an operator alert condition.
type AlertType string

const (
	AlertNegativeSentiment AlertType = "negative_sentiment"
	AlertAbandonedCall     AlertType = "abandoned_call"
)

// Valid reports whether t is a known alert condition.
func (t AlertType) Valid() bool {
	return t == AlertNegativeSentiment || t == AlertAbandonedCall
}

// Delivery states of an alert notification.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliverySkipped   = "skipped"
)

// AlertEvent records an alert that was actually raised. The unique index on
// (call_id, alert_type) is what guarantees at most one alert per condition
// per call; DeliveryStatus only reflects the notification attempt and never
// causes a re-raise.
type AlertEvent struct {
	ID              string         `json:"id"               gorm:"type:char(26);primaryKey"`
	CallID          string         `json:"call_id"          gorm:"type:varchar(128);not null;uniqueIndex:ux_alert_call_type,priority:1"`
	AlertType       AlertType      `json:"alert_type"       gorm:"type:varchar(32);not null;uniqueIndex:ux_alert_call_type,priority:2;check:alert_type IN ('negative_sentiment','abandoned_call')"`
	RaisedAt        time.Time      `json:"raised_at"        gorm:"not null;index"`
	PayloadSnapshot datatypes.JSON `json:"payload_snapshot" gorm:"type:text"`
	DeliveryStatus  string         `json:"delivery_status"  gorm:"type:varchar(16);not null"`
	DeliveryDetail  string         `json:"delivery_detail"  gorm:"type:text"`
}

// TableName returns the database table name for AlertEvent.
func (AlertEvent) TableName() string { return "alert_events" }

// AlertSnapshot is the payload copied into AlertEvent.PayloadSnapshot.
type AlertSnapshot struct {
	CallID            string `json:"call_id"`
	CallerPhone       string `json:"caller_phone,omitempty"`
	TranscriptExcerpt string `json:"transcript_excerpt,omitempty"`
	Reason            string `json:"reason"`
	Details           string `json:"details,omitempty"`
}

// TransferEvent is an append-only record of a live-agent transfer.
type TransferEvent struct {
	ID           string    `json:"id"                      gorm:"type:char(26);primaryKey"`
	CallID       string    `json:"call_id"                 gorm:"type:varchar(128);not null;index"`
	TargetNumber *string   `json:"target_number,omitempty" gorm:"type:varchar(64)"`
	Reason       *string   `json:"reason,omitempty"        gorm:"type:varchar(255)"`
	Notes        *string   `json:"notes,omitempty"         gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"              gorm:"not null;index"`
}

// TableName returns the database table name for TransferEvent.
func (TransferEvent) TableName() string { return "transfer_events" }

// EmailTemplate is an admin override of a built-in template's subject/body.
type EmailTemplate struct {
	TemplateType string    `json:"template_type" gorm:"type:varchar(64);primaryKey"`
	Subject      string    `json:"subject"       gorm:"type:varchar(255);not null"`
	Body         string    `json:"body"          gorm:"type:text;not null"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for EmailTemplate.
func (EmailTemplate) TableName() string { return "email_templates" }
