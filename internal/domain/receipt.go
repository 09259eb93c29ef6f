package domain

import (
	"time"

	"gorm.io/datatypes"
)

// IngestionReceipt represents one accepted webhook delivery, keyed by its
// idempotency key. It is owned by the idempotency guard and never exposed to
// callers. Response holds the JSON body first returned for the delivery so a
// re-delivery can be answered identically without re-running side effects.
type IngestionReceipt struct {
	ID        string         `gorm:"type:char(36);primaryKey"`
	Key       string         `gorm:"type:varchar(320);not null;uniqueIndex:ux_receipts_key"`
	CallID    string         `gorm:"type:varchar(128);not null;index"`
	Kind      string         `gorm:"type:varchar(32);not null"`
	Response  datatypes.JSON `gorm:"type:text"`
	CreatedAt time.Time      `gorm:"not null"`
	ExpiresAt time.Time      `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (IngestionReceipt) TableName() string { return "ingestion_receipts" }
