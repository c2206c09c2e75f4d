package license_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-license/internal/audit"
	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/events"
	"github.com/technosupport/ts-license/internal/license"
)

var (
	t0          = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	licenseCols = []string{
		"id", "license_key", "product_id", "name", "customer_email", "machine_id", "adapter_id",
		"duration_days", "activated_at", "expires_at", "is_active", "notes", "created_at", "updated_at",
	}
	productCols = []string{"id", "name", "description", "is_active", "created_at"}
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type recordingPublisher struct {
	got []events.LicenseEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.LicenseEvent) error {
	p.got = append(p.got, evt)
	return nil
}

func newService(t *testing.T, now time.Time) (*license.Service, sqlmock.Sqlmock, *recordingPublisher) {
	t.Helper()
	return newServiceWithClock(t, &fixedClock{t: now})
}

func newServiceWithClock(t *testing.T, clock *fixedClock) (*license.Service, sqlmock.Sqlmock, *recordingPublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &recordingPublisher{}
	svc := license.NewService(data.NewStore(db), audit.NewTrail(db, nil),
		license.WithClock(clock),
		license.WithPublisher(pub),
	)
	return svc, mock, pub
}

func activateReq() license.ActivateRequest {
	return license.ActivateRequest{
		ProductID:     1,
		CustomerEmail: "ops@example.com",
		MachineID:     "M-1",
		AdapterID:     "AA:BB:CC:DD:EE:FF",
		DurationDays:  30,
	}
}

func expectProduct(mock sqlmock.Sqlmock, active bool) {
	mock.ExpectQuery("FROM products WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(int64(1), "Alpha", "", active, t0))
}

func licenseRow(id int64, activated time.Time, days int, expires any, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(licenseCols).AddRow(
		id, "key-1", int64(1), "Alpha", "ops@example.com", "M-1", "AA:BB:CC:DD:EE:FF",
		days, activated, expires, active, "", t0, t0,
	)
}

func expectAudit(mock sqlmock.Sqlmock, licenseID any, action audit.Action, success bool) {
	mock.ExpectExec("INSERT INTO activation_logs").
		WithArgs(sqlmock.AnyArg(), licenseID, string(action), sqlmock.AnyArg(), sqlmock.AnyArg(), success,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestActivate_NewThenRepeat(t *testing.T) {
	clock := &fixedClock{t: t0}
	svc, mock, pub := newServiceWithClock(t, clock)
	ctx := context.Background()

	// First activation inserts.
	mock.ExpectBegin()
	expectProduct(mock, true)
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("license:1:M-1:AA:BB:CC:DD:EE:FF").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE l.product_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO licenses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(10), t0, t0))
	expectAudit(mock, int64(10), audit.ActionActivate, true)
	mock.ExpectCommit()

	res, err := svc.Activate(ctx, activateReq(), license.RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Alpha", res.ProductName)
	assert.Equal(t, 30, res.DaysRemaining)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, t0.Add(30*24*time.Hour), *res.ExpiresAt)

	// Ten days later the same tuple activates again with a different duration:
	// the record is overwritten with the new duration and a fresh activation
	// time, and the entry is audited as renew.
	t1 := t0.Add(10 * 24 * time.Hour)
	clock.t = t1
	req := activateReq()
	req.DurationDays = 90
	req.CustomerEmail = "new-owner@example.com"

	mock.ExpectBegin()
	expectProduct(mock, true)
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE l.product_id").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))
	mock.ExpectQuery("UPDATE licenses").
		WithArgs("new-owner@example.com", 90, t1, t1.Add(90*24*time.Hour), true, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(t1))
	expectAudit(mock, int64(10), audit.ActionRenew, true)
	mock.ExpectCommit()

	res, err = svc.Activate(ctx, req, license.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "key-1", res.LicenseKey)
	assert.Equal(t, 90, res.DurationDays)
	assert.Equal(t, t1, res.ActivatedAt)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, t1.Add(90*24*time.Hour), *res.ExpiresAt)
	assert.Equal(t, 90, res.DaysRemaining)

	assert.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, pub.got, 2)
	assert.Equal(t, events.Activated, pub.got[0].Type)
	assert.Equal(t, events.Renewed, pub.got[1].Type)
}

func TestActivate_InvalidAdapterTouchesNothing(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	req := activateReq()
	req.AdapterID = "not-a-mac"
	_, err := svc.Activate(context.Background(), req, license.RequestMeta{})

	var ve *license.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "mac_address")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_FieldErrorsUseJSONNames(t *testing.T) {
	svc, _, _ := newService(t, t0)

	_, err := svc.Activate(context.Background(), license.ActivateRequest{}, license.RequestMeta{})

	var ve *license.ValidationError
	require.ErrorAs(t, err, &ve)
	for _, field := range []string{"software_id", "customer_email", "machine_id", "mac_address", "duration_days"} {
		assert.Contains(t, ve.Fields, field)
	}
}

func TestActivate_InactiveProduct(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectBegin()
	expectProduct(mock, false)
	mock.ExpectRollback()

	_, err := svc.Activate(context.Background(), activateReq(), license.RequestMeta{})
	require.ErrorIs(t, err, license.ErrProductUnavailable)
	assert.True(t, license.IsClientError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_DuplicateInsertRetriesAsUpdate(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectBegin()
	expectProduct(mock, true)
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE l.product_id").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO licenses").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectProduct(mock, true)
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE l.product_id").
		WillReturnRows(licenseRow(4, t0, 30, t0.Add(30*24*time.Hour), true))
	mock.ExpectQuery("UPDATE licenses").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(t0))
	expectAudit(mock, int64(4), audit.ActionRenew, true)
	mock.ExpectCommit()

	res, err := svc.Activate(context.Background(), activateReq(), license.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_InternalErrorIsAudited(t *testing.T) {
	svc, mock, pub := newService(t, t0)

	mock.ExpectBegin()
	expectProduct(mock, true)
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WHERE l.product_id").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO activation_logs").
		WithArgs(sqlmock.AnyArg(), nil, "activate", sqlmock.AnyArg(), sqlmock.AnyArg(), false,
			sqlmock.AnyArg(), int64(1), "M-1", "AA:BB:CC:DD:EE:FF", sqlmock.AnyArg(), t0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := svc.Activate(context.Background(), activateReq(), license.RequestMeta{})
	require.Error(t, err)
	assert.False(t, license.IsClientError(err))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.Empty(t, pub.got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Activate 30 days then renew 10 the same instant: expiry lands 40 days out.
func TestRenew_StacksOnValidLicense(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF l").
		WithArgs(int64(1), "M-1", "AA:BB:CC:DD:EE:FF").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))
	mock.ExpectQuery("UPDATE licenses").
		WithArgs("ops@example.com", 10, t0, t0.Add(40*24*time.Hour), true, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(t0))
	expectAudit(mock, int64(10), audit.ActionRenew, true)
	mock.ExpectCommit()

	res, err := svc.Renew(context.Background(), license.RenewRequest{
		MachineID: "M-1", AdapterID: "AA:BB:CC:DD:EE:FF", ProductID: 1, DurationDays: 10,
	}, license.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, t0.Add(40*24*time.Hour), *res.ExpiresAt)
	assert.Equal(t, 40, res.DaysRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_ResetsExpiredLicense(t *testing.T) {
	now := t0.Add(60 * 24 * time.Hour)
	svc, mock, _ := newService(t, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF l").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), false))
	mock.ExpectQuery("UPDATE licenses").
		WithArgs("ops@example.com", 10, now, now.Add(10*24*time.Hour), true, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	expectAudit(mock, int64(10), audit.ActionRenew, true)
	mock.ExpectCommit()

	res, err := svc.Renew(context.Background(), license.RenewRequest{
		MachineID: "M-1", AdapterID: "AA:BB:CC:DD:EE:FF", ProductID: 1, DurationDays: 10,
	}, license.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 10, res.DaysRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_UnknownTuple(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF l").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Renew(context.Background(), license.RenewRequest{
		MachineID: "M-9", AdapterID: "AA:BB:CC:DD:EE:FF", ProductID: 1, DurationDays: 10,
	}, license.RequestMeta{})

	var ve *license.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, license.NonFieldErrors)
	assert.ErrorIs(t, err, license.ErrLicenseNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_NoRecordIsNotAudited(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectQuery("AND p.name").
		WithArgs("M-1", "AA:BB:CC:DD:EE:FF", "Alpha").
		WillReturnError(sql.ErrNoRows)

	res, err := svc.Validate(context.Background(), license.ValidateRequest{
		MachineID: "M-1", AdapterID: "AA:BB:CC:DD:EE:FF", ProductName: "Alpha",
	}, license.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_ExpiredIsAuditedAsFailure(t *testing.T) {
	now := t0.Add(31 * 24 * time.Hour)
	svc, mock, _ := newService(t, now)

	mock.ExpectQuery("AND p.name").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))
	expectAudit(mock, int64(10), audit.ActionValidate, false)

	res, err := svc.Validate(context.Background(), license.ValidateRequest{
		MachineID: "M-1", AdapterID: "AA:BB:CC:DD:EE:FF", ProductName: "Alpha",
	}, license.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.Found)
	assert.Empty(t, res.CustomerEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_Valid(t *testing.T) {
	svc, mock, _ := newService(t, t0.Add(24*time.Hour))

	mock.ExpectQuery("AND p.name").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))
	expectAudit(mock, int64(10), audit.ActionValidate, true)

	res, err := svc.Validate(context.Background(), license.ValidateRequest{
		MachineID: "M-1", AdapterID: "AA:BB:CC:DD:EE:FF", ProductName: "Alpha",
	}, license.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "ops@example.com", res.CustomerEmail)
	assert.Equal(t, 29, res.DaysRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActive_RevokeThenNoop(t *testing.T) {
	svc, mock, pub := newService(t, t0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("WHERE l.license_key").WithArgs("key-1").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))
	mock.ExpectQuery("UPDATE licenses").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(t0))
	expectAudit(mock, int64(10), audit.ActionRevoke, true)
	mock.ExpectCommit()

	v, err := svc.SetActive(ctx, "key-1", false, license.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, license.StatusDisabled, v.Status)

	// Already disabled: no update, no audit.
	mock.ExpectBegin()
	mock.ExpectQuery("WHERE l.license_key").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), false))
	mock.ExpectCommit()

	_, err = svc.SetActive(ctx, "key-1", false, license.RequestMeta{})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, pub.got, 1)
	assert.Equal(t, events.Revoked, pub.got[0].Type)
}

func TestSetActive_UnknownKey(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectBegin()
	mock.ExpectQuery("WHERE l.license_key").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.SetActive(context.Background(), "missing", true, license.RequestMeta{})
	assert.ErrorIs(t, err, license.ErrLicenseNotFound)
}

func TestListProducts_Cached(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectQuery("WHERE is_active = TRUE").
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(int64(1), "Alpha", "", true, t0))

	for i := 0; i < 3; i++ {
		products, err := svc.ListProducts(context.Background())
		require.NoError(t, err)
		require.Len(t, products, 1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProduct_Duplicate(t *testing.T) {
	svc, mock, _ := newService(t, t0)

	mock.ExpectQuery("INSERT INTO products").WillReturnError(&pq.Error{Code: "23505"})

	_, err := svc.CreateProduct(context.Background(), license.CreateProductRequest{Name: "Alpha"})
	assert.ErrorIs(t, err, license.ErrProductExists)
	assert.True(t, license.IsClientError(err))
}

func TestList_AppliesStatus(t *testing.T) {
	svc, mock, _ := newService(t, t0.Add(25*24*time.Hour))

	mock.ExpectQuery("ORDER BY l.created_at DESC").
		WillReturnRows(licenseRow(10, t0, 30, t0.Add(30*24*time.Hour), true))

	views, err := svc.List(context.Background(), license.ListQuery{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, license.StatusExpiring, views[0].Status)
	assert.Equal(t, 5, views[0].DaysRemaining)
}
