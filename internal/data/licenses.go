package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// License is a grant of one product to one (machine, adapter) pair.
type License struct {
	ID            int64
	LicenseKey    string
	ProductID     int64
	ProductName   string
	CustomerEmail string
	MachineID     string
	AdapterID     string
	DurationDays  int
	ActivatedAt   time.Time
	ExpiresAt     *time.Time
	IsActive      bool
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type LicenseFilter struct {
	ProductID  *int64
	Email      string
	ActiveOnly bool
	Now        time.Time // reference time for ActiveOnly
	Limit      int
	Offset     int
}

type LicenseModel struct {
	DB DBTX
}

const licenseColumns = `
	l.id, l.license_key, l.product_id, p.name, l.customer_email, l.machine_id, l.adapter_id,
	l.duration_days, l.activated_at, l.expires_at, l.is_active, l.notes, l.created_at, l.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var l License
	var expires sql.NullTime
	err := row.Scan(
		&l.ID, &l.LicenseKey, &l.ProductID, &l.ProductName, &l.CustomerEmail, &l.MachineID, &l.AdapterID,
		&l.DurationDays, &l.ActivatedAt, &expires, &l.IsActive, &l.Notes, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		l.ExpiresAt = &t
	}
	return &l, nil
}

// LockTuple serializes writers on one (product, machine, adapter) tuple until
// the surrounding transaction ends. Must run inside a transaction.
func (m LicenseModel) LockTuple(ctx context.Context, productID int64, machineID, adapterID string) error {
	key := fmt.Sprintf("license:%d:%s:%s", productID, machineID, adapterID)
	_, err := m.DB.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// FindByTuple looks up the record for an exact (product, machine, adapter)
// match regardless of its active flag.
func (m LicenseModel) FindByTuple(ctx context.Context, productID int64, machineID, adapterID string, forUpdate bool) (*License, error) {
	query := `SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN products p ON p.id = l.product_id
		WHERE l.product_id = $1 AND l.machine_id = $2 AND l.adapter_id = $3`
	if forUpdate {
		query += ` FOR UPDATE OF l`
	}

	l, err := scanLicense(m.DB.QueryRowContext(ctx, query, productID, machineID, adapterID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return l, nil
}

// FindActiveByProductName is the validation lookup: active records only,
// product matched by name.
func (m LicenseModel) FindActiveByProductName(ctx context.Context, machineID, adapterID, productName string) (*License, error) {
	query := `SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN products p ON p.id = l.product_id
		WHERE l.machine_id = $1 AND l.adapter_id = $2 AND p.name = $3 AND l.is_active = TRUE`

	l, err := scanLicense(m.DB.QueryRowContext(ctx, query, machineID, adapterID, productName))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return l, nil
}

func (m LicenseModel) GetByKey(ctx context.Context, key string, forUpdate bool) (*License, error) {
	query := `SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN products p ON p.id = l.product_id
		WHERE l.license_key = $1`
	if forUpdate {
		query += ` FOR UPDATE OF l`
	}

	l, err := scanLicense(m.DB.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return l, nil
}

// Insert stores a new record. A concurrent insert of the same tuple or key
// surfaces as ErrDuplicate.
func (m LicenseModel) Insert(ctx context.Context, l *License) error {
	query := `
		INSERT INTO licenses (
			license_key, product_id, customer_email, machine_id, adapter_id,
			duration_days, activated_at, expires_at, is_active, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		l.LicenseKey, l.ProductID, l.CustomerEmail, l.MachineID, l.AdapterID,
		l.DurationDays, l.ActivatedAt, l.ExpiresAt, l.IsActive, l.Notes,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Update writes the mutable lifecycle fields. Key, product and tuple are immutable.
func (m LicenseModel) Update(ctx context.Context, l *License) error {
	query := `
		UPDATE licenses
		SET customer_email = $1, duration_days = $2, activated_at = $3, expires_at = $4,
		    is_active = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		l.CustomerEmail, l.DurationDays, l.ActivatedAt, l.ExpiresAt, l.IsActive, l.ID,
	).Scan(&l.UpdatedAt)
	return mapNoRows(err)
}

func (m LicenseModel) List(ctx context.Context, f LicenseFilter) ([]License, error) {
	var where []string
	var args []any
	idx := 1

	if f.ProductID != nil {
		where = append(where, fmt.Sprintf("l.product_id = $%d", idx))
		args = append(args, *f.ProductID)
		idx++
	}
	if f.Email != "" {
		where = append(where, fmt.Sprintf("l.customer_email = $%d", idx))
		args = append(args, f.Email)
		idx++
	}
	if f.ActiveOnly {
		where = append(where, fmt.Sprintf("l.is_active = TRUE AND l.expires_at > $%d", idx))
		args = append(args, f.Now)
		idx++
	}

	query := `SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN products p ON p.id = l.product_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY l.created_at DESC, l.id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	licenses := []License{}
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, *l)
	}
	return licenses, rows.Err()
}
