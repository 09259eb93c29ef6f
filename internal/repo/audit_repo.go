// Package repo implements the data persistence layer for the call archive,
// backed by GORM. This file provides the append-only audit trail: email
// dispatch attempts, raised alerts, and live-agent transfers.
package repo

import (
	"context"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/callvault/internal/domain"
)

// AppendDispatchLog inserts one dispatch attempt. Each attempt gets its own
// row; rows are never updated.
func AppendDispatchLog(ctx context.Context, db *gorm.DB, log *domain.EmailDispatchLog) error {
	if log.ID == "" {
		log.ID = ulid.Make().String()
	}
	log.AttemptedAt = log.AttemptedAt.UTC()
	return db.WithContext(ctx).Create(log).Error
}

// ListDispatchLogs returns every attempt for a call, oldest first.
func ListDispatchLogs(ctx context.Context, db *gorm.DB, callID string) ([]domain.EmailDispatchLog, error) {
	var out []domain.EmailDispatchLog
	err := db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("attempted_at asc, id asc").
		Find(&out).Error
	return out, err
}

// CreateAlert records that an alert was raised. It returns ErrDuplicate when
// the same (call_id, alert_type) has already been raised; that is the
// only suppression signal callers should rely on.
//
// The insert uses ON CONFLICT DO NOTHING so a suppressed alert leaves an
// enclosing transaction usable.
func CreateAlert(ctx context.Context, db *gorm.DB, a *domain.AlertEvent) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.DeliveryStatus == "" {
		a.DeliveryStatus = domain.DeliveryPending
	}
	a.RaisedAt = a.RaisedAt.UTC()
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// UpdateAlertDelivery records the outcome of the notification attempt.
func UpdateAlertDelivery(ctx context.Context, db *gorm.DB, id, status, detail string) error {
	res := db.WithContext(ctx).
		Model(&domain.AlertEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"delivery_status": status, "delivery_detail": detail})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAlerts returns the alerts raised for a call, oldest first.
func ListAlerts(ctx context.Context, db *gorm.DB, callID string) ([]domain.AlertEvent, error) {
	var out []domain.AlertEvent
	err := db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("raised_at asc, id asc").
		Find(&out).Error
	return out, err
}

// CreateTransfer appends a transfer event.
func CreateTransfer(ctx context.Context, db *gorm.DB, ev *domain.TransferEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return db.WithContext(ctx).Create(ev).Error
}

// ListTransfers returns the transfers recorded for a call, oldest first.
func ListTransfers(ctx context.Context, db *gorm.DB, callID string) ([]domain.TransferEvent, error) {
	var out []domain.TransferEvent
	err := db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}
