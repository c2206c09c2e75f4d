package license

import (
	"time"

	"github.com/technosupport/ts-license/internal/data"
)

const day = 24 * time.Hour

// ExpiringSoonWindow marks licenses close enough to expiry to flag in listings.
const ExpiringSoonWindow = 7 * day

type Status string

const (
	StatusActive   Status = "active"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

// IsExpired reports whether now is strictly past the expiry. Records without
// an expiry never expire.
func IsExpired(l *data.License, now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return now.After(*l.ExpiresAt)
}

// DaysRemaining counts whole days left, truncating. Zero when expired or when
// no expiry is set.
func DaysRemaining(l *data.License, now time.Time) int {
	if l.ExpiresAt == nil || IsExpired(l, now) {
		return 0
	}
	return int(l.ExpiresAt.Sub(now) / day)
}

// RecomputeExpiry sets expiry to activation + duration.
func RecomputeExpiry(l *data.License) {
	exp := l.ActivatedAt.Add(time.Duration(l.DurationDays) * day)
	l.ExpiresAt = &exp
}

// ApplyRenewal extends a still-valid license from its current expiry, or
// restarts an expired one from now. Duration is overwritten, not summed.
func ApplyRenewal(l *data.License, days int, now time.Time) {
	extend := time.Duration(days) * day

	var exp time.Time
	if l.ExpiresAt == nil || IsExpired(l, now) {
		l.ActivatedAt = now
		exp = now.Add(extend)
	} else {
		exp = l.ExpiresAt.Add(extend)
	}

	l.ExpiresAt = &exp
	l.DurationDays = days
	l.IsActive = true
}

// StatusOf classifies a record for operator listings.
func StatusOf(l *data.License, now time.Time) Status {
	switch {
	case !l.IsActive:
		return StatusDisabled
	case IsExpired(l, now):
		return StatusExpired
	case l.ExpiresAt != nil && l.ExpiresAt.Sub(now) <= ExpiringSoonWindow:
		return StatusExpiring
	default:
		return StatusActive
	}
}
