package license_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/license"
)

func at(t time.Time) *time.Time { return &t }

func TestIsExpired(t *testing.T) {
	exp := t0.Add(time.Hour)
	tests := []struct {
		name    string
		expires *time.Time
		now     time.Time
		want    bool
	}{
		{"no expiry", nil, t0, false},
		{"before", &exp, t0, false},
		{"exactly at expiry", &exp, exp, false},
		{"after", &exp, exp.Add(time.Nanosecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &data.License{ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, license.IsExpired(l, tt.now))
		})
	}
}

func TestDaysRemaining_Truncates(t *testing.T) {
	l := &data.License{ExpiresAt: at(t0.Add(47 * time.Hour))}
	assert.Equal(t, 1, license.DaysRemaining(l, t0))
	assert.Equal(t, 0, license.DaysRemaining(l, t0.Add(48*time.Hour)))
	assert.Equal(t, 0, license.DaysRemaining(&data.License{}, t0))
}

func TestApplyRenewal(t *testing.T) {
	day := 24 * time.Hour

	t.Run("extends from current expiry", func(t *testing.T) {
		l := &data.License{ActivatedAt: t0, DurationDays: 30, ExpiresAt: at(t0.Add(30 * day))}
		license.ApplyRenewal(l, 10, t0.Add(5*day))
		assert.Equal(t, t0.Add(40*day), *l.ExpiresAt)
		assert.Equal(t, t0, l.ActivatedAt)
		assert.Equal(t, 10, l.DurationDays)
	})

	t.Run("restarts when expired", func(t *testing.T) {
		now := t0.Add(45 * day)
		l := &data.License{ActivatedAt: t0, DurationDays: 30, ExpiresAt: at(t0.Add(30 * day)), IsActive: false}
		license.ApplyRenewal(l, 10, now)
		assert.Equal(t, now.Add(10*day), *l.ExpiresAt)
		assert.Equal(t, now, l.ActivatedAt)
		assert.True(t, l.IsActive)
	})

	t.Run("missing expiry is treated as expired", func(t *testing.T) {
		l := &data.License{ActivatedAt: t0}
		license.ApplyRenewal(l, 7, t0.Add(day))
		assert.Equal(t, t0.Add(8*day), *l.ExpiresAt)
	})
}

func TestStatusOf(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name string
		l    data.License
		want license.Status
	}{
		{"disabled wins", data.License{IsActive: false, ExpiresAt: at(t0.Add(-day))}, license.StatusDisabled},
		{"expired", data.License{IsActive: true, ExpiresAt: at(t0.Add(-day))}, license.StatusExpired},
		{"expiring", data.License{IsActive: true, ExpiresAt: at(t0.Add(7 * day))}, license.StatusExpiring},
		{"active", data.License{IsActive: true, ExpiresAt: at(t0.Add(8 * day))}, license.StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, license.StatusOf(&tt.l, t0))
		})
	}
}

func TestValidAdapterID(t *testing.T) {
	assert.True(t, license.ValidAdapterID("aa:bb:cc:dd:ee:ff"))
	assert.True(t, license.ValidAdapterID("AA-BB-CC-DD-EE-FF"))
	assert.False(t, license.ValidAdapterID("not-a-mac"))
	assert.False(t, license.ValidAdapterID("AA:BB:CC:DD:EE"))
}
