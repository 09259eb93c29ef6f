package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
)

// PurgeResult counts the rows removed by PurgeExpired.
type PurgeResult struct {
	Calls      int64
	Dispatches int64
	Alerts     int64
	Transfers  int64
	Receipts   int64
}

// PurgeExpired deletes every call whose occurred_at is at least horizon in
// the past, together with its audit rows and receipts. Younger records are
// never touched. A non-positive horizon is rejected rather than treated as
// "delete everything".
func PurgeExpired(ctx context.Context, db *gorm.DB, horizon time.Duration, now time.Time) (PurgeResult, error) {
	if horizon <= 0 {
		return PurgeResult{}, errors.New("retention horizon must be positive")
	}
	cutoff := now.UTC().Add(-horizon)

	var res PurgeResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&domain.CallRecord{}).Select("call_id").Where("occurred_at <= ?", cutoff)

		steps := []struct {
			dst   *int64
			model any
		}{
			{&res.Dispatches, &domain.EmailDispatchLog{}},
			{&res.Alerts, &domain.AlertEvent{}},
			{&res.Transfers, &domain.TransferEvent{}},
			{&res.Receipts, &domain.IngestionReceipt{}},
		}
		for _, s := range steps {
			r := tx.Where("call_id IN (?)", expired).Delete(s.model)
			if r.Error != nil {
				return r.Error
			}
			*s.dst = r.RowsAffected
		}

		r := tx.Where("occurred_at <= ?", cutoff).Delete(&domain.CallRecord{})
		if r.Error != nil {
			return r.Error
		}
		res.Calls = r.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}
	return res, nil
}
