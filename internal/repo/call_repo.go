// Package repo implements the data persistence layer for the call archive,
// backed by GORM. This file provides repository functions for CallRecord.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - When a record is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - MergeCall(ctx, tx, callID, patch, now) -> *domain.CallRecord, conflict, error
//     Insert-or-merge of one call under a single-key transaction.
//
//   - GetCall(ctx, db, callID) -> *domain.CallRecord, error
//
//   - SearchCalls(ctx, db, filter) -> []domain.CallRecord, total, error
//     Filtered page ordered by occurred_at descending; transcripts omitted.
//
//   - ExportCalls(ctx, db) -> iter.Seq2[domain.CallRecord, error]
//     Cursor-backed stream of the full archive.
//
//   - MarkEmailSent(ctx, db, callID) -> error
package repo

import (
	"context"
	"iter"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/callvault/internal/domain"
)

// MergeCall applies patch to the record for callID, creating the record on
// first sight. It must run inside a transaction: the record row is created
// with ON CONFLICT DO NOTHING, then re-read under a row lock (where the
// dialect has one) so concurrent merges for the same call serialize instead
// of losing updates. Different calls never contend on a shared lock.
//
// conflict reports a terminal event that disagreed with an already-closed
// record; the record is still saved with every other field merged.
func MergeCall(ctx context.Context, tx *gorm.DB, callID string, patch domain.CallPatch, now time.Time) (rec *domain.CallRecord, conflict bool, err error) {
	db := tx.WithContext(ctx)

	seed := domain.NewCallRecord(callID, now)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, false, err
	}

	var cur domain.CallRecord
	q := db
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("call_id = ?", callID).Take(&cur).Error; err != nil {
		return nil, false, err
	}

	conflict = cur.Apply(patch)
	if err := db.Save(&cur).Error; err != nil {
		return nil, false, err
	}
	return &cur, conflict, nil
}

// GetCall fetches a single record with its transcript, or ErrNotFound.
func GetCall(ctx context.Context, db *gorm.DB, callID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := db.WithContext(ctx).Where("call_id = ?", callID).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CallFilter narrows SearchCalls. Empty fields do not filter.
type CallFilter struct {
	// CallID matches as a substring (operators often paste partial ids).
	CallID string
	// PhoneDigits matches as a substring of the stored number's digits.
	PhoneDigits string
	// From is inclusive, To exclusive, both compared to occurred_at.
	From *time.Time
	To   *time.Time

	Offset int
	Limit  int
}

func (f CallFilter) apply(q *gorm.DB) *gorm.DB {
	if f.CallID != "" {
		q = q.Where(`call_id LIKE ? ESCAPE '\'`, "%"+escapeLike(f.CallID)+"%")
	}
	if f.PhoneDigits != "" {
		q = q.Where(`caller_phone LIKE ? ESCAPE '\'`, "%"+escapeLike(f.PhoneDigits)+"%")
	}
	if f.From != nil {
		q = q.Where("occurred_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("occurred_at < ?", f.To.UTC())
	}
	return q
}

// SearchCalls returns one page of matching records (without transcripts) and
// the total number of matches, ordered by occurred_at descending.
func SearchCalls(ctx context.Context, db *gorm.DB, f CallFilter) ([]domain.CallRecord, int64, error) {
	base := db.WithContext(ctx).Model(&domain.CallRecord{})

	var total int64
	if err := f.apply(base.Session(&gorm.Session{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CallRecord{}, 0, nil
	}

	var out []domain.CallRecord
	err := f.apply(base.Session(&gorm.Session{})).
		Omit("transcript").
		Order("occurred_at desc, call_id asc").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&out).Error
	return out, total, err
}

// ExportCalls streams every record, newest first, straight from a database
// cursor so memory stays flat regardless of archive size. Iteration stops at
// the first error, which is yielded once.
func ExportCalls(ctx context.Context, db *gorm.DB) iter.Seq2[domain.CallRecord, error] {
	return func(yield func(domain.CallRecord, error) bool) {
		conn := db.WithContext(ctx)
		rows, err := conn.Model(&domain.CallRecord{}).Order("occurred_at desc, call_id asc").Rows()
		if err != nil {
			yield(domain.CallRecord{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec domain.CallRecord
			if err := conn.ScanRows(rows, &rec); err != nil {
				yield(domain.CallRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.CallRecord{}, err)
		}
	}
}

// MarkEmailSent sets the sticky email_sent flag on a record.
func MarkEmailSent(ctx context.Context, db *gorm.DB, callID string) error {
	res := db.WithContext(ctx).
		Model(&domain.CallRecord{}).
		Where("call_id = ?", callID).
		Update("email_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
