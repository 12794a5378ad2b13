package services

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	refMu      sync.Mutex
	refEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRef returns a public rental reference. ULIDs sort by creation time and
// do not expose the row id.
func NewRef() string {
	refMu.Lock()
	defer refMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), refEntropy).String()
}
