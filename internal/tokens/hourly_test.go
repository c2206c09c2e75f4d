package tokens_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-license/internal/tokens"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDerive_HourBucket(t *testing.T) {
	ts := time.Date(2024, 6, 15, 12, 42, 0, 0, time.UTC)
	got := tokens.Derive("s3cret", ts)
	assert.Len(t, got, 64)
	assert.Equal(t, got, tokens.Derive("s3cret", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)))
	assert.NotEqual(t, got, tokens.Derive("s3cret", time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC)))
}

func TestDerive_UsesUTCHour(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*3600)
	local := time.Date(2024, 6, 15, 19, 5, 0, 0, bangkok)
	utc := time.Date(2024, 6, 15, 12, 5, 0, 0, time.UTC)
	assert.Equal(t, tokens.Derive("k", utc), tokens.Derive("k", local))
}

func TestDerive_DifferentSecrets(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, tokens.Derive("a", ts), tokens.Derive("b", ts))
}

func TestVerify_Window(t *testing.T) {
	issued := time.Date(2024, 6, 15, 12, 59, 0, 0, time.UTC)
	token := tokens.Derive("S", issued)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"same hour", issued, true},
		{"next hour", issued.Add(2 * time.Minute), true},
		{"end of next hour", time.Date(2024, 6, 15, 13, 59, 59, 0, time.UTC), true},
		{"two hours later", issued.Add(61 * time.Minute), false},
		{"previous hour", issued.Add(-time.Hour), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := tokens.NewHourlyVerifier("S", fixedClock(tc.now))
			assert.Equal(t, tc.want, v.Verify(token))
		})
	}
}

func TestVerify_EmptyInputs(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	v := tokens.NewHourlyVerifier("", fixedClock(now))
	assert.False(t, v.Verify(tokens.Derive("", now)), "empty secret must never verify")

	v = tokens.NewHourlyVerifier("S", fixedClock(now))
	assert.False(t, v.Verify(""))
	assert.False(t, v.Verify("not-a-token"))
}

func TestVerify_SecretRotation(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	v := tokens.NewHourlyVerifier("old", fixedClock(now))
	oldToken := v.Current()

	v.SetSecret("new")
	assert.False(t, v.Verify(oldToken))
	assert.True(t, v.Verify(tokens.Derive("new", now)))
}
