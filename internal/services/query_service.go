// QueryService is the admin read surface over the archive: paginated search,
// single-call detail, full CSV export, and dashboard totals. All methods are
// pure reads. Search, Get and Stats run under their own timeout so a slow
// query never holds a connection indefinitely; Export is bounded only by the
// caller's context because it streams the whole archive.

package services

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExportColumns is the fixed CSV column order.
var ExportColumns = []string{
	"call_id", "caller_phone", "occurred_at", "duration_seconds",
	"transferred", "sentiment", "status", "transcript",
}

const (
	defaultPageSize = 20
	// exportFlushEvery bounds how many rows sit in the CSV buffer.
	exportFlushEvery = 200
)

// QueryService serves admin reads.
type QueryService struct {
	DB          *gorm.DB
	Timeout     time.Duration
	MaxPageSize int
	// Location interprets date-only filters and formats dashboard times.
	Location *time.Location
	Now      func() time.Time
}

// SearchParams are the raw admin filters. Dates accept RFC 3339 or
// YYYY-MM-DD (local to Location); To is exclusive, except that a date-only
// To includes that whole day. Date selects one local day.
type SearchParams struct {
	CallID   string
	Phone    string
	From     string
	To       string
	Date     string
	Page     int
	PageSize int
}

// SearchPage is one page of projections (no transcripts).
type SearchPage struct {
	Calls    []domain.CallRecord
	Total    int64
	Page     int
	PageSize int
}

// CallDetail is one call with its audit trail.
type CallDetail struct {
	Call       domain.CallRecord         `json:"call"`
	Dispatches []domain.EmailDispatchLog `json:"dispatches"`
	Alerts     []domain.AlertEvent       `json:"alerts"`
	Transfers  []domain.TransferEvent    `json:"transfers"`
}

// Dashboard is the admin overview.
type Dashboard struct {
	repo.ArchiveStats
	// LastCallDisplay is LatestOccurredAt formatted in Location, "" when empty.
	LastCallDisplay string `json:"last_call_display"`
	TimeZone        string `json:"time_zone"`
}

// Search returns one page of calls matching p, newest first.
func (s *QueryService) Search(ctx context.Context, p SearchParams) (SearchPage, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.Int("page", p.Page),
			attribute.Int("page_size", p.PageSize),
		),
	)
	defer span.End()

	f, page, size, err := s.filter(p)
	if err != nil {
		return SearchPage{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	calls, total, err := repo.SearchCalls(ctx, s.DB, f)
	if err != nil {
		return SearchPage{}, err
	}
	return SearchPage{Calls: calls, Total: total, Page: page, PageSize: size}, nil
}

func (s *QueryService) filter(p SearchParams) (repo.CallFilter, int, int, error) {
	var f repo.CallFilter
	f.CallID = strings.TrimSpace(p.CallID)

	if raw := strings.TrimSpace(p.Phone); raw != "" {
		f.PhoneDigits = digits(raw)
		if f.PhoneDigits == "" {
			return f, 0, 0, invalid("phone", "must contain digits")
		}
	}

	loc := s.location()
	if d := strings.TrimSpace(p.Date); d != "" {
		day, err := time.ParseInLocation(time.DateOnly, d, loc)
		if err != nil {
			return f, 0, 0, invalid("date", "must be YYYY-MM-DD")
		}
		next := day.AddDate(0, 0, 1)
		f.From, f.To = &day, &next
	}
	if v := strings.TrimSpace(p.From); v != "" {
		t, _, err := parseWhen(v, loc)
		if err != nil {
			return f, 0, 0, invalid("from", "must be RFC 3339 or YYYY-MM-DD")
		}
		f.From = &t
	}
	if v := strings.TrimSpace(p.To); v != "" {
		t, dateOnly, err := parseWhen(v, loc)
		if err != nil {
			return f, 0, 0, invalid("to", "must be RFC 3339 or YYYY-MM-DD")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return f, 0, 0, invalid("to", "must be after from")
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if limit := s.MaxPageSize; limit > 0 && size > limit {
		size = limit
	}
	f.Offset = (page - 1) * size
	f.Limit = size
	return f, page, size, nil
}

// Get returns the full record for callID, transcript included.
func (s *QueryService) Get(ctx context.Context, callID string) (*CallDetail, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("call.id", callID)),
	)
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := repo.GetCall(ctx, s.DB, callID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, err
	}
	d := &CallDetail{Call: *rec}
	if d.Dispatches, err = repo.ListDispatchLogs(ctx, s.DB, callID); err != nil {
		return nil, err
	}
	if d.Alerts, err = repo.ListAlerts(ctx, s.DB, callID); err != nil {
		return nil, err
	}
	if d.Transfers, err = repo.ListTransfers(ctx, s.DB, callID); err != nil {
		return nil, err
	}
	return d, nil
}

// Export writes the whole archive to w as CSV with ExportColumns, streamed
// from a database cursor. It returns the number of data rows written. Once
// rows have been written an error can only truncate the output, so callers
// streaming to a client must treat a non-nil error as a broken export.
func (s *QueryService) Export(ctx context.Context, w io.Writer) (int, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Export")
	defer span.End()

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return 0, err
	}

	n := 0
	for rec, err := range repo.ExportCalls(ctx, s.DB) {
		if err != nil {
			cw.Flush()
			return n, err
		}
		if err := cw.Write(exportRow(rec)); err != nil {
			return n, err
		}
		n++
		if n%exportFlushEvery == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return n, err
			}
		}
	}
	cw.Flush()
	span.SetAttributes(attribute.Int("export.rows", n))
	return n, cw.Error()
}

func exportRow(rec domain.CallRecord) []string {
	row := make([]string, 0, len(ExportColumns))
	row = append(row, rec.CallID)
	row = append(row, deref(rec.CallerPhone))
	row = append(row, rec.OccurredAt.UTC().Format(time.RFC3339))
	if rec.DurationSeconds != nil {
		row = append(row, strconv.Itoa(*rec.DurationSeconds))
	} else {
		row = append(row, "")
	}
	row = append(row, strconv.FormatBool(rec.Transferred))
	row = append(row, string(rec.Sentiment))
	row = append(row, string(rec.Status))
	row = append(row, deref(rec.Transcript))
	return row
}

// Stats returns the dashboard totals. "Today" is midnight in Location.
func (s *QueryService) Stats(ctx context.Context) (Dashboard, error) {
	tr := otel.Tracer("services/QueryService")
	ctx, span := tr.Start(ctx, "Stats")
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	loc := s.location()
	local := now(s.Now).In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	st, err := repo.Stats(ctx, s.DB, midnight)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{ArchiveStats: st, TimeZone: loc.String()}
	if st.LatestOccurredAt != nil {
		d.LastCallDisplay = st.LatestOccurredAt.In(loc).Format("Jan 2, 2006 3:04 PM MST")
	}
	return d, nil
}

func (s *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (s *QueryService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// parseWhen parses RFC 3339 or a local date, reporting which form matched.
func parseWhen(v string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err = time.ParseInLocation(time.DateOnly, v, loc)
	return t, true, err
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
