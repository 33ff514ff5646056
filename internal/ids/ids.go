package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose time component is t. Identifiers minted
// within the same millisecond still sort in creation order.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Prefixed returns New with a readable type prefix, e.g. "req-01J...".
func Prefixed(prefix string, t time.Time) string {
	return prefix + "-" + NewAt(t)
}
