// Package repo implements the data persistence layer for the call archive,
// backed by GORM. This file provides the aggregate queries behind the admin
// dashboard.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
)

// ArchiveStats summarizes the archive for the dashboard.
type ArchiveStats struct {
	TotalCalls       int64 `json:"total_calls"`
	ClosedCalls      int64 `json:"closed_calls"`
	TransferredCalls int64 `json:"transferred_calls"`
	EmailedCalls     int64 `json:"emailed_calls"`
	NegativeCalls    int64 `json:"negative_calls"`
	CallsSince       int64 `json:"calls_today"`
	EmailsSent       int64 `json:"emails_sent"`
	EmailsFailed     int64 `json:"emails_failed"`
	AlertsRaised     int64 `json:"alerts_raised"`
	// LatestOccurredAt is nil when the archive is empty.
	LatestOccurredAt *time.Time `json:"latest_occurred_at,omitempty"`
}

// Stats computes ArchiveStats. CallsSince counts calls with occurred_at >= since.
func Stats(ctx context.Context, db *gorm.DB, since time.Time) (ArchiveStats, error) {
	var st ArchiveStats
	conn := db.WithContext(ctx)
	calls := func() *gorm.DB { return conn.Model(&domain.CallRecord{}) }

	counts := []struct {
		dst *int64
		q   *gorm.DB
	}{
		{&st.TotalCalls, calls()},
		{&st.ClosedCalls, calls().Where("status = ?", domain.StatusClosed)},
		{&st.TransferredCalls, calls().Where("transferred = ?", true)},
		{&st.EmailedCalls, calls().Where("email_sent = ?", true)},
		{&st.NegativeCalls, calls().Where("sentiment = ?", domain.SentimentNegative)},
		{&st.CallsSince, calls().Where("occurred_at >= ?", since.UTC())},
		{&st.EmailsSent, conn.Model(&domain.EmailDispatchLog{}).Where("outcome IN ?", []domain.DispatchOutcome{domain.OutcomeSent, domain.OutcomeStubbed})},
		{&st.EmailsFailed, conn.Model(&domain.EmailDispatchLog{}).Where("outcome = ?", domain.OutcomeFailed)},
		{&st.AlertsRaised, conn.Model(&domain.AlertEvent{})},
	}
	for _, c := range counts {
		if err := c.q.Count(c.dst).Error; err != nil {
			return ArchiveStats{}, err
		}
	}
	if st.TotalCalls == 0 {
		return st, nil
	}

	// Get latest occurred_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		OccurredAt time.Time
	}
	if err := calls().Select("occurred_at").Order("occurred_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return ArchiveStats{}, err
	}
	st.LatestOccurredAt = &row.OccurredAt
	return st, nil
}
