package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
	MaxExport    = 10000
)

var ErrInvalidCursor = errors.New("invalid cursor")

const insertEntry = `
	INSERT INTO activation_logs (
		event_id, license_id, action, ip_address, user_agent, success, error_message,
		product_id, machine_id, adapter_id, request_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (event_id) DO NOTHING`

func (t *Trail) prepare(e *Entry) {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
}

// Append inserts e using q, normally the transaction that performed the
// license mutation so both commit or neither does.
func (t *Trail) Append(ctx context.Context, q Execer, e Entry) error {
	t.prepare(&e)
	_, err := q.ExecContext(ctx, insertEntry,
		e.EventID, e.LicenseID, string(e.Action), e.IPAddress, e.UserAgent, e.Success, e.ErrorMessage,
		e.ProductID, e.MachineID, e.AdapterID, e.RequestID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AppendDetached writes outside any transaction. When the database is
// unreachable the entry goes to the spool and is replayed later; an error is
// returned only if both fail.
func (t *Trail) AppendDetached(ctx context.Context, e Entry) error {
	t.prepare(&e)
	err := t.Append(ctx, t.DB, e)
	if err == nil {
		return nil
	}
	if t.spool == nil {
		return err
	}
	if rejected(err) {
		slog.Error("audit entry rejected by database, not spooled", "event_id", e.EventID, "error", err)
		return err
	}

	slog.Warn("audit db write failed, spooling", "event_id", e.EventID, "error", err)
	if spoolErr := t.spool.Write(e); spoolErr != nil {
		slog.Error("audit spool failed", "event_id", e.EventID, "error", spoolErr)
		return fmt.Errorf("audit critical failure: %w", spoolErr)
	}
	return nil
}

// rejected reports errors the database returns for the row itself: data
// exceptions (class 22) and integrity violations (class 23). Retrying them
// cannot succeed.
func rejected(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23":
		return true
	}
	return false
}

// No Update or Delete methods exist on Trail.

const selectEntries = `
	SELECT a.id, a.event_id, a.license_id, COALESCE(p.name || ' - ' || l.customer_email, ''),
	       a.action, a.ip_address, a.user_agent, a.success, a.error_message,
	       a.product_id, a.machine_id, a.adapter_id, a.request_id, a.created_at
	FROM activation_logs a
	LEFT JOIN licenses l ON l.id = a.license_id
	LEFT JOIN products p ON p.id = l.product_id
	WHERE TRUE`

func buildWhere(f Filter) (string, []any, error) {
	var sb strings.Builder
	var args []any
	idx := 1

	if f.LicenseID != nil {
		fmt.Fprintf(&sb, " AND a.license_id = $%d", idx)
		args = append(args, *f.LicenseID)
		idx++
	}
	if f.Action != "" {
		fmt.Fprintf(&sb, " AND a.action = $%d", idx)
		args = append(args, string(f.Action))
		idx++
	}
	if f.Success != nil {
		fmt.Fprintf(&sb, " AND a.success = $%d", idx)
		args = append(args, *f.Success)
		idx++
	}
	if f.Cursor != "" {
		ts, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&sb, " AND (a.created_at, a.id) < ($%d, $%d)", idx, idx+1)
		args = append(args, ts, id)
	}
	return sb.String(), args, nil
}

// Query returns entries newest first and the cursor for the next page, empty
// when there are no more rows.
func (t *Trail) Query(ctx context.Context, f Filter) ([]Entry, string, error) {
	if f.Limit <= 0 || f.Limit > MaxLimit {
		f.Limit = DefaultLimit
	}

	where, args, err := buildWhere(f)
	if err != nil {
		return nil, "", err
	}
	q := selectEntries + where + fmt.Sprintf(" ORDER BY a.created_at DESC, a.id DESC LIMIT $%d", len(args)+1)
	args = append(args, f.Limit)

	rows, err := t.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(entries) == f.Limit {
		last := entries[len(entries)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return entries, next, nil
}

// Export streams matching entries as JSON lines, newest first, capped at MaxExport.
func (t *Trail) Export(ctx context.Context, f Filter, w io.Writer) (int, error) {
	f.Cursor = ""
	where, args, err := buildWhere(f)
	if err != nil {
		return 0, err
	}
	q := selectEntries + where + fmt.Sprintf(" ORDER BY a.created_at DESC, a.id DESC LIMIT $%d", len(args)+1)
	args = append(args, MaxExport)

	rows, err := t.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return count, err
		}
		if err := enc.Encode(e); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var action string
	err := row.Scan(
		&e.ID, &e.EventID, &e.LicenseID, &e.LicenseInfo,
		&action, &e.IPAddress, &e.UserAgent, &e.Success, &e.ErrorMessage,
		&e.ProductID, &e.MachineID, &e.AdapterID, &e.RequestID, &e.CreatedAt,
	)
	e.Action = Action(action)
	return e, err
}

func encodeCursor(ts time.Time, id int64) string {
	return strconv.FormatInt(ts.UnixMicro(), 10) + "_" + strconv.FormatInt(id, 10)
}

func decodeCursor(c string) (time.Time, int64, error) {
	tsPart, idPart, ok := strings.Cut(c, "_")
	if !ok {
		return time.Time{}, 0, ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	return time.UnixMicro(micros).UTC(), id, nil
}
