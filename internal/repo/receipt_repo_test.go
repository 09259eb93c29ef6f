package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/callvault/internal/domain"
)

func TestAdmitReceipt_FirstAdmitsSecondDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.IngestionReceipt{})
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := AdmitReceipt(ctx, db, "k1", "c1", domain.KindTranscript, now, time.Hour)
	if err != nil {
		t.Fatalf("AdmitReceipt: %v", err)
	}
	if rec.ID == "" || rec.Key != "k1" || rec.Kind != string(domain.KindTranscript) {
		t.Fatalf("unexpected receipt: %+v", rec)
	}
	if !rec.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires_at = %v; want %v", rec.ExpiresAt, now.Add(time.Hour))
	}

	if _, err := AdmitReceipt(ctx, db, "k1", "c1", domain.KindTranscript, now.Add(time.Minute), time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

type logLines struct{ lines []string }

func (l *logLines) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestAdmitReceipt_DuplicateIsQuiet(t *testing.T) {
	db := newTestDB(t, &domain.IngestionReceipt{})
	sink := &logLines{}
	db = db.Session(&gorm.Session{Logger: logger.New(sink, logger.Config{LogLevel: logger.Error})})
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := AdmitReceipt(ctx, tx, "k-dup", "c1", domain.KindEmailRequest, now, time.Hour)
			return err
		})
		switch {
		case i == 0 && err != nil:
			t.Fatalf("first admit: %v", err)
		case i > 0 && !errors.Is(err, ErrDuplicate):
			t.Fatalf("admit %d: expected ErrDuplicate, got %v", i, err)
		}
	}
	var n int64
	db.Model(&domain.IngestionReceipt{}).Where("key = ?", "k-dup").Count(&n)
	if n != 1 {
		t.Fatalf("receipts = %d; want 1", n)
	}
	if len(sink.lines) != 0 {
		t.Fatalf("duplicates should not reach the SQL error log: %q", sink.lines)
	}
}

func TestAdmitReceipt_ExpiredKeyIsReadmitted(t *testing.T) {
	db := newTestDB(t, &domain.IngestionReceipt{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := AdmitReceipt(ctx, db, "k1", "c1", domain.KindAlert, now.Add(-2*time.Hour), time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := AdmitReceipt(ctx, db, "k1", "c1", domain.KindAlert, now, time.Hour); err != nil {
		t.Fatalf("expired key should be admitted again, got %v", err)
	}
	var n int64
	db.Model(&domain.IngestionReceipt{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected the expired receipt to be replaced, have %d rows", n)
	}
}

func TestAdmitReceipt_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := AdmitReceipt(context.Background(), db, "k", "c", domain.KindAlert, time.Now(), time.Hour); err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected raw db error, got %v", err)
	}
}

func TestGetReceipt_SaveResponse(t *testing.T) {
	db := newTestDB(t, &domain.IngestionReceipt{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := GetReceipt(ctx, db, "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := AdmitReceipt(ctx, db, "k1", "c1", domain.KindEmailRequest, now, time.Hour); err != nil {
		t.Fatalf("AdmitReceipt: %v", err)
	}
	if err := SaveReceiptResponse(ctx, db, "k1", []byte(`{"status":"sent"}`)); err != nil {
		t.Fatalf("SaveReceiptResponse: %v", err)
	}
	got, err := GetReceipt(ctx, db, "k1", now)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if string(got.Response) != `{"status":"sent"}` {
		t.Fatalf("response = %s", got.Response)
	}
	if _, err := GetReceipt(ctx, db, "k1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired receipt should read as not found, got %v", err)
	}
}

func TestPruneReceipts(t *testing.T) {
	db := newTestDB(t, &domain.IngestionReceipt{})
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = AdmitReceipt(ctx, db, "old", "c1", domain.KindAlert, now.Add(-48*time.Hour), time.Hour)
	_, _ = AdmitReceipt(ctx, db, "new", "c1", domain.KindAlert, now, time.Hour)

	n, err := PruneReceipts(ctx, db, now)
	if err != nil {
		t.Fatalf("PruneReceipts: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d; want 1", n)
	}
	if _, err := GetReceipt(ctx, db, "new", now); err != nil {
		t.Fatalf("live receipt pruned: %v", err)
	}
}
