package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionActivate Action = "activate"
	ActionValidate Action = "validate"
	ActionRenew    Action = "renew"
	ActionRevoke   Action = "revoke"
)

func (a Action) Valid() bool {
	switch a {
	case ActionActivate, ActionValidate, ActionRenew, ActionRevoke:
		return true
	}
	return false
}

// Entry is one row of the activation log.
type Entry struct {
	ID           int64     `json:"id"`
	EventID      uuid.UUID `json:"event_id"` // Idempotency Key
	LicenseID    *int64    `json:"license_id"`
	LicenseInfo  string    `json:"license_info,omitempty"`
	Action       Action    `json:"action"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message"`

	// Input tuple, kept for failure entries that have no license row to point at.
	ProductID *int64 `json:"product_id,omitempty"`
	MachineID string `json:"machine_id,omitempty"`
	AdapterID string `json:"adapter_id,omitempty"`

	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter for querying. Zero values mean "any".
type Filter struct {
	LicenseID *int64
	Action    Action
	Success   *bool
	Limit     int
	Cursor    string
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Trail is the append-only activation log.
type Trail struct {
	DB    *sql.DB
	spool *Spool
	now   func() time.Time
}

func NewTrail(db *sql.DB, spool *Spool) *Trail {
	return &Trail{DB: db, spool: spool, now: time.Now}
}

// WithClock overrides the timestamp source for entries without CreatedAt.
func (t *Trail) WithClock(now func() time.Time) *Trail {
	t.now = now
	return t
}
