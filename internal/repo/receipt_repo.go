// Package repo implements the data persistence layer for the call archive,
// backed by GORM. This file provides repository helpers for the
// IngestionReceipt model used to deduplicate webhook deliveries.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/callvault/internal/domain"
)

// AdmitReceipt records key as seen. It returns ErrDuplicate when an
// unexpired receipt for key already exists. An expired receipt for the same
// key is replaced, so a delivery arriving after the dedup window is
// processed again.
//
// Run it in the same transaction as the merge it guards: if the merge fails
// the receipt rolls back with it and a retry is not wrongly reported as a
// duplicate.
func AdmitReceipt(ctx context.Context, tx *gorm.DB, key, callID string, kind domain.EventKind, now time.Time, ttl time.Duration) (*domain.IngestionReceipt, error) {
	db := tx.WithContext(ctx)
	now = now.UTC()

	if err := db.Where("key = ? AND expires_at <= ?", key, now).
		Delete(&domain.IngestionReceipt{}).Error; err != nil {
		return nil, err
	}

	rec := &domain.IngestionReceipt{
		ID:        uuid.NewString(),
		Key:       key,
		CallID:    callID,
		Kind:      string(kind),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return nil, ErrDuplicate
		}
		return nil, res.Error
	}
	// A routine duplicate is a no-op row, not a constraint error.
	if res.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	return rec, nil
}

// GetReceipt returns the unexpired receipt for key or ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.IngestionReceipt, error) {
	var rec domain.IngestionReceipt
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now.UTC()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveReceiptResponse stores the response body first returned for key.
func SaveReceiptResponse(ctx context.Context, db *gorm.DB, key string, body []byte) error {
	return db.WithContext(ctx).
		Model(&domain.IngestionReceipt{}).
		Where("key = ?", key).
		Update("response", datatypes.JSON(body)).Error
}

// PruneReceipts deletes receipts that expired at or before now and returns
// how many were removed.
func PruneReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.IngestionReceipt{})
	return res.RowsAffected, res.Error
}
