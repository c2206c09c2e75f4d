package tokens

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// HourLayout is the UTC hour bucket appended to the secret before hashing.
const HourLayout = "2006010215"

// Derive returns the client token for the hour containing t.
func Derive(secret string, t time.Time) string {
	sum := sha256.Sum256([]byte(secret + t.UTC().Format(HourLayout)))
	return hex.EncodeToString(sum[:])
}

// HourlyVerifier accepts tokens derived for the current or the previous hour.
type HourlyVerifier struct {
	mu     sync.RWMutex
	secret string
	now    func() time.Time
}

func NewHourlyVerifier(secret string, now func() time.Time) *HourlyVerifier {
	if now == nil {
		now = time.Now
	}
	return &HourlyVerifier{secret: secret, now: now}
}

// SetSecret swaps the shared secret, used by the secret file watcher.
func (v *HourlyVerifier) SetSecret(secret string) {
	v.mu.Lock()
	v.secret = secret
	v.mu.Unlock()
}

// Current returns the token a client would present right now.
func (v *HourlyVerifier) Current() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Derive(v.secret, v.now())
}

func (v *HourlyVerifier) Verify(presented string) bool {
	v.mu.RLock()
	secret := v.secret
	v.mu.RUnlock()

	if secret == "" || presented == "" {
		return false
	}

	now := v.now()
	p := []byte(presented)
	current := subtle.ConstantTimeCompare(p, []byte(Derive(secret, now)))
	previous := subtle.ConstantTimeCompare(p, []byte(Derive(secret, now.Add(-time.Hour))))
	return current|previous == 1
}
