package telemdb

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Store is an opaque Key => string record backend. Implementations must be
// safe for concurrent use.
type Store interface {
	// Read returns the value of key, or ErrNotFound.
	Read(ctx context.Context, key Key) (string, error)
	// Write upserts the value of key.
	Write(ctx context.Context, key Key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// Keys invokes fn with every record key. If fn returns an error,
	// listing stops and that error is returned.
	Keys(ctx context.Context, fn func(Key) error) error
	// Hashes returns content hashes of the present keys, without reading
	// their values. Absent keys are omitted from the result.
	Hashes(ctx context.Context, keys []Key) (map[Key]string, error)

	AddCaptureDescription(ctx context.Context, desc CaptureDescription) error
	CaptureDescriptions(ctx context.Context, fn func(CaptureDescription) error) error
	RemoveCaptureDescription(ctx context.Context, location Key) error

	Close() error
}

// CaptureDescription indexes a capture within a Store, so that captures can
// be enumerated without reading them.
type CaptureDescription struct {
	Location  Key       `json:"location"`
	System    string    `json:"system"`
	Created   time.Time `json:"created"`
	Frequency float64   `json:"frequency"`
}

// sortDescriptions orders descs on their creation time.
func sortDescriptions(descs []CaptureDescription) {
	sort.SliceStable(descs, func(i, j int) bool { return descs[i].Created.Before(descs[j].Created) })
}

// hashValue is the content hash of a stored value. Every backend persists it
// alongside the value so that hashes agree across backends.
func hashValue(value string) string {
	var sum = blake3.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// innerStore is implemented by Store decorators.
type innerStore interface {
	Inner() Store
}

// baseStore unwraps decorators down to the backend Store.
func baseStore(s Store) Store {
	for {
		if w, ok := s.(innerStore); ok {
			s = w.Inner()
		} else {
			return s
		}
	}
}
