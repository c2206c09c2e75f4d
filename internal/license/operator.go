package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/technosupport/ts-license/internal/audit"
	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/events"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// LicenseView is the operator-facing rendering of a record.
type LicenseView struct {
	ID            int64      `json:"id"`
	LicenseKey    string     `json:"license_key"`
	ProductID     int64      `json:"software_id"`
	ProductName   string     `json:"software_name"`
	CustomerEmail string     `json:"customer_email"`
	MachineID     string     `json:"machine_id"`
	AdapterID     string     `json:"mac_address"`
	DurationDays  int        `json:"duration_days"`
	ActivatedAt   time.Time  `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsActive      bool       `json:"is_active"`
	Notes         string     `json:"notes,omitempty"`
	Status        Status     `json:"status"`
	DaysRemaining int        `json:"days_remaining"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func viewOf(l *data.License, now time.Time) LicenseView {
	return LicenseView{
		ID:            l.ID,
		LicenseKey:    l.LicenseKey,
		ProductID:     l.ProductID,
		ProductName:   l.ProductName,
		CustomerEmail: l.CustomerEmail,
		MachineID:     l.MachineID,
		AdapterID:     l.AdapterID,
		DurationDays:  l.DurationDays,
		ActivatedAt:   l.ActivatedAt,
		ExpiresAt:     l.ExpiresAt,
		IsActive:      l.IsActive,
		Notes:         l.Notes,
		Status:        StatusOf(l, now),
		DaysRemaining: DaysRemaining(l, now),
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

type ListQuery struct {
	ProductID  *int64
	Email      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]LicenseView, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	now := s.now()

	records, err := data.LicenseModel{DB: s.store.DB}.List(ctx, data.LicenseFilter{
		ProductID:  q.ProductID,
		Email:      q.Email,
		ActiveOnly: q.ActiveOnly,
		Now:        now,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	views := make([]LicenseView, 0, len(records))
	for i := range records {
		views = append(views, viewOf(&records[i], now))
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, key string) (*LicenseView, error) {
	l, err := data.LicenseModel{DB: s.store.DB}.GetByKey(ctx, key, false)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	v := viewOf(l, s.now())
	return &v, nil
}

// SetActive revokes or re-enables a license by key. Setting the current state
// again is a no-op and writes no audit entry.
func (s *Service) SetActive(ctx context.Context, key string, active bool, meta RequestMeta) (view *LicenseView, err error) {
	op := "revoke"
	if active {
		op = "enable"
	}
	defer s.observe(op, time.Now(), &err)
	now := s.now()

	var rec data.License
	changed := false
	err = s.store.WithTx(ctx, func(q data.DBTX) error {
		licenses := data.LicenseModel{DB: q}
		l, err := licenses.GetByKey(ctx, key, true)
		if errors.Is(err, data.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return err
		}
		rec = *l
		if l.IsActive == active {
			return nil
		}

		l.IsActive = active
		if err := licenses.Update(ctx, l); err != nil {
			return err
		}

		// Re-enabling is recorded as an activation of the existing record.
		action := audit.ActionRevoke
		if active {
			action = audit.ActionActivate
		}
		if err := s.trail.Append(ctx, q, s.entry(l.ID, action, true, meta, now)); err != nil {
			return err
		}
		rec = *l
		changed = true
		return nil
	})
	if errors.Is(err, ErrLicenseNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s license: %w", op, err)
	}

	if changed {
		typ := events.Revoked
		if active {
			typ = events.Enabled
		}
		s.publish(ctx, events.LicenseEvent{
			Type: typ, LicenseKey: rec.LicenseKey, ProductID: rec.ProductID, ProductName: rec.ProductName,
			MachineID: rec.MachineID, AdapterID: rec.AdapterID, ExpiresAt: rec.ExpiresAt, Active: active, OccurredAt: now,
		})
		s.logger.InfoContext(ctx, "license state changed", "license_key", rec.LicenseKey, "active", active)
	}

	v := viewOf(&rec, now)
	return &v, nil
}
