package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/repo"
)

func seedCall(t *testing.T, db *gorm.DB, ev domain.TranscriptEvent) {
	t.Helper()
	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := repo.MergeCall(context.Background(), tx, ev.CallID, ev.Patch(), *ev.OccurredAt)
		return err
	})
	if err != nil {
		t.Fatalf("seed %s: %v", ev.CallID, err)
	}
}

func callAt(id, phone string, at time.Time) domain.TranscriptEvent {
	return domain.TranscriptEvent{
		CallID:          id,
		CallerPhone:     phone,
		Transcript:      "Agent: hello, " + id + "\nCaller: \"billing\" question",
		DurationSeconds: intp(60),
		OccurredAt:      &at,
		Sentiment:       domain.SentimentPositive,
	}
}

func newQuery(t *testing.T, db *gorm.DB) *QueryService {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return &QueryService{DB: db, Timeout: 5 * time.Second, MaxPageSize: 100, Location: ny}
}

func TestSearch_FiltersAndOrder(t *testing.T) {
	db := newSvcDB(t)
	base := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) // Feb 28, 22:00 in New York
	seedCall(t, db, callAt("alpha", "+17705550101", base))
	seedCall(t, db, callAt("bravo", "+17705550102", base.Add(24*time.Hour)))
	seedCall(t, db, callAt("charlie", "+14045550103", base.Add(48*time.Hour)))
	q := newQuery(t, db)
	ctx := context.Background()

	all, err := q.Search(ctx, SearchParams{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if all.Total != 3 || all.Calls[0].CallID != "charlie" || all.Calls[2].CallID != "alpha" {
		t.Fatalf("unexpected order: %+v", all.Calls)
	}
	if all.Calls[0].Transcript != nil {
		t.Fatalf("list view must not carry transcripts")
	}

	byPhone, _ := q.Search(ctx, SearchParams{Phone: "(770) 555-01"})
	if byPhone.Total != 2 {
		t.Fatalf("phone filter total = %d; want 2", byPhone.Total)
	}

	byID, _ := q.Search(ctx, SearchParams{CallID: "rav"})
	if byID.Total != 1 || byID.Calls[0].CallID != "bravo" {
		t.Fatalf("call id filter = %+v", byID.Calls)
	}

	// Local day boundaries, not UTC ones.
	feb28, _ := q.Search(ctx, SearchParams{Date: "2026-02-28"})
	if feb28.Total != 1 || feb28.Calls[0].CallID != "alpha" {
		t.Fatalf("date filter = %+v", feb28.Calls)
	}
	rng, _ := q.Search(ctx, SearchParams{From: "2026-03-01", To: "2026-03-01"})
	if rng.Total != 1 || rng.Calls[0].CallID != "bravo" {
		t.Fatalf("range filter = %+v", rng.Calls)
	}
	since, _ := q.Search(ctx, SearchParams{From: base.Add(time.Hour).Format(time.RFC3339)})
	if since.Total != 2 {
		t.Fatalf("RFC 3339 from filter total = %d", since.Total)
	}
}

func TestSearch_Pagination(t *testing.T) {
	db := newSvcDB(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedCall(t, db, callAt(fmt.Sprintf("c%d", i), "", base.Add(time.Duration(i)*time.Minute)))
	}
	q := newQuery(t, db)
	q.MaxPageSize = 2

	p, err := q.Search(context.Background(), SearchParams{Page: 3, PageSize: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if p.PageSize != 2 || p.Page != 3 || p.Total != 5 || len(p.Calls) != 1 || p.Calls[0].CallID != "c0" {
		t.Fatalf("page = %+v", p)
	}

	empty, err := q.Search(context.Background(), SearchParams{CallID: "nothing"})
	if err != nil || empty.Total != 0 || empty.Calls == nil {
		t.Fatalf("no-match page = %+v, %v", empty, err)
	}
}

func TestSearch_Validation(t *testing.T) {
	q := newQuery(t, newSvcDB(t))
	for name, p := range map[string]SearchParams{
		"phone letters": {Phone: "abc"},
		"bad date":      {Date: "03/01/2026"},
		"bad from":      {From: "yesterday"},
		"inverted":      {From: "2026-03-02", To: "2026-03-01T00:00:00Z"},
	} {
		if _, err := q.Search(context.Background(), p); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestSearch_StorageErrorIsNotEmptyPage(t *testing.T) {
	db := newSvcDB(t)
	_ = db.Migrator().DropTable(&domain.CallRecord{})
	if _, err := newQuery(t, db).Search(context.Background(), SearchParams{}); err == nil {
		t.Fatalf("expected an error, not an empty page")
	}
}

func TestGet_DetailAndNotFound(t *testing.T) {
	db := newSvcDB(t)
	h := newHarness(t, db, true)
	ctx := context.Background()
	ev := callAt("c1", "+17705550100", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if _, err := h.ingest.Ingest(ctx, "k1", ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := h.email.Dispatch(ctx, "c1", domain.EmailGeneralInfo, "a@example.com"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	q := newQuery(t, db)

	d, err := q.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Call.Transcript == nil || *d.Call.Transcript != ev.Transcript {
		t.Fatalf("detail must include the transcript")
	}
	if len(d.Dispatches) != 1 || len(d.Alerts) != 0 || len(d.Transfers) != 0 {
		t.Fatalf("detail = %+v", d)
	}

	if _, err := q.Get(ctx, "missing"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestExport_Completeness(t *testing.T) {
	db := newSvcDB(t)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		seedCall(t, db, callAt(fmt.Sprintf("call-%02d", i), "+1770555010"+strconv.Itoa(i), base.Add(time.Duration(i)*time.Hour)))
	}
	// One open placeholder with no transcript or duration.
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := repo.MergeCall(context.Background(), tx, "call-10", domain.TransferRequestEvent{CallID: "call-10"}.Patch(), base)
		return err
	}); err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}

	var buf bytes.Buffer
	n, err := newQuery(t, db).Export(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 11 {
		t.Fatalf("rows = %d; want 11", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 12 {
		t.Fatalf("csv lines = %d; want header + 11", len(records))
	}
	for i, col := range ExportColumns {
		if records[0][i] != col {
			t.Fatalf("header[%d] = %q; want %q", i, records[0][i], col)
		}
	}
	for _, row := range records[1:] {
		rec := mustCall(t, db, row[0])
		want := exportRow(*rec)
		for i := range want {
			if row[i] != want[i] {
				t.Fatalf("%s column %s = %q; want %q", row[0], ExportColumns[i], row[i], want[i])
			}
		}
	}
	if first, last := records[1][0], records[len(records)-1][0]; first != "call-09" || last != "call-10" {
		t.Fatalf("unexpected ordering: first=%s last=%s", first, last)
	}
}

func TestStats_Dashboard(t *testing.T) {
	db := newSvcDB(t)
	at := time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC)
	seedCall(t, db, callAt("c1", "", at.Add(-48*time.Hour)))
	seedCall(t, db, callAt("c2", "", at))
	q := newQuery(t, db)
	q.Now = fixedClock(at.Add(time.Hour))

	d, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if d.TotalCalls != 2 || d.ClosedCalls != 2 || d.CallsSince != 1 {
		t.Fatalf("stats = %+v", d.ArchiveStats)
	}
	if d.LastCallDisplay != "Mar 1, 2026 12:30 PM EST" || d.TimeZone != "America/New_York" {
		t.Fatalf("display = %q (%s)", d.LastCallDisplay, d.TimeZone)
	}
}
