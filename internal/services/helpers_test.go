package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/notify"
	"github.com/tbourn/callvault/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newSvcFileDB is a single-connection file database for tests that run
// work on the background runner concurrently with the test goroutine.
func newSvcFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func intp(i int) *int { return &i }

func testTown() config.TownConfig {
	return config.TownConfig{
		Name:          "Town of Braselton",
		Department:    "Water/Sewer",
		Phone:         "(770) 867-4488",
		Email:         "utilitybilling@braselton.net",
		Address:       "6111 Winder Highway, Braselton, GA 30517",
		Hours:         "Monday-Friday, 8:00 AM - 5:00 PM",
		PaymentURL:    "https://braselton.net/pay",
		AdjustFormURL: "https://braselton.net/utilities/adjustment-form",
		Website:       "https://braselton.net",
	}
}

// fakeRelay replays scripted results and records every message.
type fakeRelay struct {
	mu      sync.Mutex
	results []error
	sent    []mail.Message
}

func (r *fakeRelay) Send(_ context.Context, msg mail.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if len(r.results) == 0 {
		return "email-1", nil
	}
	err := r.results[0]
	r.results = r.results[1:]
	if err != nil {
		return "", err
	}
	return "email-1", nil
}

func (r *fakeRelay) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// fakeChannel records summaries and returns err.
type fakeChannel struct {
	mu  sync.Mutex
	got []notify.Summary
	err error
}

func (c *fakeChannel) Notify(_ context.Context, s notify.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s)
	return c.err
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type harness struct {
	db      *gorm.DB
	relay   *fakeRelay
	channel *fakeChannel
	email   *EmailService
	alerts  *AlertService
	ingest  *IngestService
}

// newHarness wires the ingestion pipeline with inline side effects.
func newHarness(t *testing.T, db *gorm.DB, stub bool) *harness {
	t.Helper()
	h := &harness{db: db, relay: &fakeRelay{}, channel: &fakeChannel{}}
	h.email = &EmailService{
		DB:          db,
		Relay:       h.relay,
		StubMode:    stub,
		From:        "utilitybilling@braselton.net",
		Town:        testTown(),
		Templates:   &TemplateService{DB: db},
		MaxAttempts: 3,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	h.alerts = &AlertService{DB: db, Channel: h.channel, AbandonedSeconds: 10}
	h.ingest = &IngestService{
		DB:           db,
		Guard:        &Guard{DB: db, TTL: 720 * time.Hour},
		Email:        h.email,
		Alerts:       h.alerts,
		ResponseWait: time.Second,
	}
	return h
}

func countRows(t *testing.T, db *gorm.DB, model any, where ...any) int64 {
	t.Helper()
	q := db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func mustCall(t *testing.T, db *gorm.DB, id string) *domain.CallRecord {
	t.Helper()
	rec, err := repo.GetCall(context.Background(), db, id)
	if err != nil {
		t.Fatalf("GetCall(%s): %v", id, err)
	}
	return rec
}
