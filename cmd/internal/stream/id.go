package stream

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewClientMessageID returns a ULID used as client_msg_id for optimistic
// sends. ULIDs are lexicographically sortable and trace well in logs.
func NewClientMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
