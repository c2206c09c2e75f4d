package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/technosupport/ts-license/internal/audit"
	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/events"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Publisher receives lifecycle events after commit.
type Publisher interface {
	Publish(ctx context.Context, evt events.LicenseEvent) error
}

// Recorder receives per-operation outcomes for metrics.
type Recorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
}

// RequestMeta is the client context copied into audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type ActivateResult struct {
	LicenseKey    string     `json:"license_key"`
	ProductName   string     `json:"software_name"`
	CustomerEmail string     `json:"customer_email"`
	ActivatedAt   time.Time  `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	DurationDays  int        `json:"duration_days"`
	DaysRemaining int        `json:"days_remaining"`
	Created       bool       `json:"-"`
}

// ValidateResult: Found without Valid means the record exists but has expired.
type ValidateResult struct {
	Valid         bool
	Found         bool
	ProductName   string
	CustomerEmail string
	ExpiresAt     *time.Time
	DaysRemaining int
}

type RenewResult struct {
	ProductName   string     `json:"software_name"`
	ExpiresAt     *time.Time `json:"expires_at"`
	DaysRemaining int        `json:"days_remaining"`
}

type Service struct {
	store    *data.Store
	trail    *audit.Trail
	clock    Clock
	validate *validator.Validate
	products *productCache
	events   Publisher
	metrics  Recorder
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithProductCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.products = newProductCache(ttl) }
}

func NewService(store *data.Store, trail *audit.Trail, opts ...Option) *Service {
	s := &Service{
		store:    store,
		trail:    trail,
		clock:    SystemClock{},
		validate: newValidator(),
		products: newProductCache(time.Minute),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "license_service"))
	return s
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// Activate creates the license for a (product, machine, adapter) tuple, or
// re-activates the existing one. Re-activation is audited as a renewal.
func (s *Service) Activate(ctx context.Context, req ActivateRequest, meta RequestMeta) (res *ActivateResult, err error) {
	defer s.observe("activate", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	now := s.now()

	var existingID *int64
	for attempt := 0; attempt < 2; attempt++ {
		res, existingID, err = s.activateTx(ctx, req, meta, now)
		if !errors.Is(err, data.ErrDuplicate) {
			break
		}
		s.logger.WarnContext(ctx, "concurrent first activation, retrying as update",
			slog.Int64("software_id", req.ProductID), slog.String("machine_id", req.MachineID))
	}

	switch {
	case err == nil:
	case errors.Is(err, data.ErrDuplicate):
		return nil, ErrConflict
	case IsClientError(err):
		return nil, err
	default:
		s.auditFailure(ctx, audit.ActionActivate, existingID, req.ProductID, req.MachineID, req.AdapterID, meta, err)
		return nil, fmt.Errorf("activate license: %w", err)
	}

	typ := events.Renewed
	if res.Created {
		typ = events.Activated
	}
	s.publish(ctx, events.LicenseEvent{
		Type: typ, LicenseKey: res.LicenseKey, ProductID: req.ProductID, ProductName: res.ProductName,
		MachineID: req.MachineID, AdapterID: req.AdapterID, ExpiresAt: res.ExpiresAt, Active: true, OccurredAt: now,
	})
	return res, nil
}

func (s *Service) activateTx(ctx context.Context, req ActivateRequest, meta RequestMeta, now time.Time) (*ActivateResult, *int64, error) {
	var res *ActivateResult
	var existingID *int64

	err := s.store.WithTx(ctx, func(q data.DBTX) error {
		product, err := data.ProductModel{DB: q}.Get(ctx, req.ProductID)
		if errors.Is(err, data.ErrRecordNotFound) {
			return fieldError("software_id", ErrProductUnavailable)
		}
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fieldError("software_id", ErrProductUnavailable)
		}

		licenses := data.LicenseModel{DB: q}
		if err := licenses.LockTuple(ctx, req.ProductID, req.MachineID, req.AdapterID); err != nil {
			return err
		}

		l, err := licenses.FindByTuple(ctx, req.ProductID, req.MachineID, req.AdapterID, false)
		created := false
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			created = true
			l = &data.License{
				LicenseKey: uuid.NewString(),
				ProductID:  product.ID,
				MachineID:  req.MachineID,
				AdapterID:  req.AdapterID,
			}
		case err != nil:
			return err
		default:
			id := l.ID
			existingID = &id
		}

		l.ProductName = product.Name
		l.CustomerEmail = req.CustomerEmail
		l.DurationDays = req.DurationDays
		l.ActivatedAt = now
		l.IsActive = true
		RecomputeExpiry(l)

		action := audit.ActionRenew
		if created {
			action = audit.ActionActivate
			err = licenses.Insert(ctx, l)
		} else {
			err = licenses.Update(ctx, l)
		}
		if err != nil {
			return err
		}

		if err := s.trail.Append(ctx, q, s.entry(l.ID, action, true, meta, now)); err != nil {
			return err
		}

		res = &ActivateResult{
			LicenseKey:    l.LicenseKey,
			ProductName:   l.ProductName,
			CustomerEmail: l.CustomerEmail,
			ActivatedAt:   l.ActivatedAt,
			ExpiresAt:     l.ExpiresAt,
			DurationDays:  l.DurationDays,
			DaysRemaining: DaysRemaining(l, now),
			Created:       created,
		}
		return nil
	})
	return res, existingID, err
}

// Validate is a read plus one audit entry. A tuple with no active record is a
// negative result, not an error, and is not audited.
func (s *Service) Validate(ctx context.Context, req ValidateRequest, meta RequestMeta) (res *ValidateResult, err error) {
	defer s.observe("validate", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	now := s.now()

	l, err := data.LicenseModel{DB: s.store.DB}.FindActiveByProductName(ctx, req.MachineID, req.AdapterID, req.ProductName)
	if errors.Is(err, data.ErrRecordNotFound) {
		return &ValidateResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate license: %w", err)
	}

	expired := IsExpired(l, now)
	if err := s.trail.AppendDetached(ctx, s.entry(l.ID, audit.ActionValidate, !expired, meta, now)); err != nil {
		return nil, fmt.Errorf("validate license: %w", err)
	}

	res = &ValidateResult{Found: true, Valid: !expired, ExpiresAt: l.ExpiresAt}
	if !expired {
		res.ProductName = l.ProductName
		res.CustomerEmail = l.CustomerEmail
		res.DaysRemaining = DaysRemaining(l, now)
	}
	return res, nil
}

// Renew extends the record for an exact tuple. An unknown tuple is reported
// as a validation error.
func (s *Service) Renew(ctx context.Context, req RenewRequest, meta RequestMeta) (res *RenewResult, err error) {
	defer s.observe("renew", time.Now(), &err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	now := s.now()

	var licenseID *int64
	var renewed data.License
	err = s.store.WithTx(ctx, func(q data.DBTX) error {
		licenses := data.LicenseModel{DB: q}
		l, err := licenses.FindByTuple(ctx, req.ProductID, req.MachineID, req.AdapterID, true)
		if errors.Is(err, data.ErrRecordNotFound) {
			return fieldError(NonFieldErrors, ErrLicenseNotFound)
		}
		if err != nil {
			return err
		}
		id := l.ID
		licenseID = &id

		ApplyRenewal(l, req.DurationDays, now)
		if err := licenses.Update(ctx, l); err != nil {
			return err
		}
		if err := s.trail.Append(ctx, q, s.entry(l.ID, audit.ActionRenew, true, meta, now)); err != nil {
			return err
		}
		renewed = *l
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			return nil, err
		}
		s.auditFailure(ctx, audit.ActionRenew, licenseID, req.ProductID, req.MachineID, req.AdapterID, meta, err)
		return nil, fmt.Errorf("renew license: %w", err)
	}

	s.publish(ctx, events.LicenseEvent{
		Type: events.Renewed, LicenseKey: renewed.LicenseKey, ProductID: renewed.ProductID,
		ProductName: renewed.ProductName, MachineID: renewed.MachineID, AdapterID: renewed.AdapterID,
		ExpiresAt: renewed.ExpiresAt, Active: true, OccurredAt: now,
	})

	return &RenewResult{
		ProductName:   renewed.ProductName,
		ExpiresAt:     renewed.ExpiresAt,
		DaysRemaining: DaysRemaining(&renewed, now),
	}, nil
}

func (s *Service) entry(licenseID int64, action audit.Action, success bool, meta RequestMeta, now time.Time) audit.Entry {
	id := licenseID
	return audit.Entry{
		LicenseID: &id,
		Action:    action,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   success,
		RequestID: meta.RequestID,
		CreatedAt: now,
	}
}

// auditFailure records a failed mutation after its transaction rolled back.
// licenseID is nil when no record existed before the attempt; the input tuple
// is kept on the entry either way.
func (s *Service) auditFailure(ctx context.Context, action audit.Action, licenseID *int64, productID int64, machineID, adapterID string, meta RequestMeta, cause error) {
	msg := cause.Error()
	pid := productID
	entry := audit.Entry{
		LicenseID:    licenseID,
		Action:       action,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Success:      false,
		ErrorMessage: &msg,
		ProductID:    &pid,
		MachineID:    machineID,
		AdapterID:    adapterID,
		RequestID:    meta.RequestID,
		CreatedAt:    s.now(),
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.trail.AppendDetached(actx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failure audit lost", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, evt events.LicenseEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(evt.Type)), slog.String("license_key", evt.LicenseKey), slog.Any("error", err))
	}
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(op, Outcome(*errp), time.Since(start))
}

// Outcome buckets an operation error for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLicenseNotFound), errors.Is(err, ErrProductNotFound):
		return "not_found"
	case IsClientError(err):
		return "invalid"
	default:
		return "error"
	}
}
