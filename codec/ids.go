package codec

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUID returns a fresh random (v4) identifier.
func NewUUID() uuid.UUID { return uuid.New() }

// NewULID returns a fresh identifier whose leading 48 bits are the unix
// millisecond timestamp of t, making freshly minted ids time ordered under
// the byte wise sort.
func NewULID(t time.Time) (ulid.ULID, error) {
	return ulid.New(ulid.Timestamp(t), rand.Reader)
}

// PutDate writes the unix millisecond timestamp of t into b[0:8].
func PutDate(b []byte, t time.Time) {
	PutUint(b[0:DateBytes], uint64(t.UnixMilli()))
}

// Date reads a unix millisecond timestamp from b[0:8].
func Date(b []byte) time.Time {
	return time.UnixMilli(int64(Uint(b[0:DateBytes]))).UTC()
}
