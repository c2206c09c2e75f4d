package tokens

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-license/internal/auth"
)

// StaticKey verifies a long-lived API key. The configured value is either the
// key itself or an argon2id hash of it.
type StaticKey struct {
	mu     sync.RWMutex
	plain  []byte
	hashed string

	// sha256(presented) of keys that already passed argon2, so repeat
	// requests skip the expensive KDF.
	verified *lru.Cache[[sha256.Size]byte, struct{}]
}

func NewStaticKey(configured string, memoSize int) *StaticKey {
	if memoSize <= 0 {
		memoSize = 64
	}
	c, _ := lru.New[[sha256.Size]byte, struct{}](memoSize)
	k := &StaticKey{verified: c}
	k.SetKey(configured)
	return k
}

// SetKey replaces the configured key and drops memoised digests.
func (k *StaticKey) SetKey(configured string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.plain, k.hashed = nil, ""
	if strings.HasPrefix(configured, "$argon2id$") {
		k.hashed = configured
	} else if configured != "" {
		k.plain = []byte(configured)
	}
	k.verified.Purge()
}

func (k *StaticKey) Verify(presented string) bool {
	if presented == "" {
		return false
	}

	k.mu.RLock()
	plain, hashed := k.plain, k.hashed
	k.mu.RUnlock()

	if plain != nil {
		return subtle.ConstantTimeCompare([]byte(presented), plain) == 1
	}
	if hashed == "" {
		return false
	}

	digest := sha256.Sum256([]byte(presented))
	if k.verified.Contains(digest) {
		return true
	}

	ok, err := auth.CheckSecret(presented, hashed)
	if err != nil || !ok {
		return false
	}
	k.verified.Add(digest, struct{}{})
	return true
}
