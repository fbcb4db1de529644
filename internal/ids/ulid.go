// Package ids generates the identifiers attached to every envelope.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID encoded as a 26-character string.
// IDs minted by one process are strictly increasing.
func NewMessageID() string {
	return newAt(time.Now()).String()
}

// MessageTime extracts the millisecond timestamp embedded in a message id.
func MessageTime(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

func newAt(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
