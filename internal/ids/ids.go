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

// New returns a lexicographically sortable identifier for stored records.
// Creation order is recoverable from the id alone, which keeps list views
// stable even before timestamps are compared.
func New() string {
	return At(time.Now())
}

// At returns an identifier anchored at the given time. Used by tests that
// need deterministic ordering across fabricated records.
func At(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
