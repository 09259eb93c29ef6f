package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/repo"
)

// RetentionService enforces the archive's retention horizon and keeps the
// receipt table small. It is the only caller of repo.PurgeExpired.
type RetentionService struct {
	DB      *gorm.DB
	Guard   *Guard
	Horizon time.Duration
	Now     func() time.Time
}

// Purge deletes call records (and their audit rows) whose occurred_at is at
// least Horizon in the past. Nothing younger is ever touched.
func (s *RetentionService) Purge(ctx context.Context) (repo.PurgeResult, error) {
	return repo.PurgeExpired(ctx, s.DB, s.Horizon, now(s.Now))
}

// PruneReceipts forgets idempotency keys past their window.
func (s *RetentionService) PruneReceipts(ctx context.Context) (int64, error) {
	return s.Guard.Prune(ctx)
}

// Run prunes expired receipts every interval until ctx is done. Record
// purging is left to the operator (the prune command) so archive deletion
// is always a deliberate act.
func (s *RetentionService) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Hour
	}
	lg := zerolog.Ctx(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.PruneReceipts(ctx)
			if err != nil {
				lg.Warn().Err(err).Msg("receipt prune failed")
				continue
			}
			if n > 0 {
				lg.Info().Int64("receipts", n).Msg("expired receipts pruned")
			}
		}
	}
}
