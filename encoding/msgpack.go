// Package encoding holds the value format of dedupe claims kept in local
// stores. Claims never leave the process's own storage, so they are msgpack
// rather than JSON.
package encoding

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Claim is the stored value of one dedupe key
type Claim struct {
	ExpiresAt int64 `msgpack:"e"` // unix nanos
	ClaimedAt int64 `msgpack:"c"` // unix nanos
}

// NewClaim returns a claim taken at now that lives for ttl
func NewClaim(now time.Time, ttl time.Duration) Claim {
	return Claim{ExpiresAt: now.Add(ttl).UnixNano(), ClaimedAt: now.UnixNano()}
}

// Live reports whether the claim still suppresses duplicates at now
func (c Claim) Live(now time.Time) bool {
	return now.UnixNano() < c.ExpiresAt
}

// EncodeClaim serializes c for storage
func EncodeClaim(c Claim) ([]byte, error) {
	return msgpack.Marshal(&c)
}

// DecodeClaim parses a stored claim. Empty input is an error.
func DecodeClaim(data []byte) (Claim, error) {
	var c Claim
	if len(data) == 0 {
		return c, fmt.Errorf("empty claim value")
	}
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return Claim{}, fmt.Errorf("failed to decode claim: %w", err)
	}
	return c, nil
}
