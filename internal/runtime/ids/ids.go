// Package ids generates the identifiers relay hands out for unnamed
// subscribers and for messages leaving a broker through the bridge. They are
// ULIDs, so identifiers created later sort after earlier ones.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// source serializes access to monotonic entropy, which is not safe for
// concurrent use. Within one millisecond the entropy is incremented instead of
// redrawn.
type source struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newSource() *source {
	return &source{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *source) next(at time.Time) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy)
}

var process = newSource()

// CreateULID returns a new identifier as its 26 character string form.
func CreateULID() string {
	return process.next(time.Now()).String()
}

// SubscriberName names a subscriber created without one.
func SubscriberName() string {
	return "subscriber-" + CreateULID()
}
