package telemdb

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Key addresses one record of a Store.
type Key = uuid.UUID

// NilKey is the zero Key. It never addresses a record.
var NilKey Key

// LegacyIndexKey was used by older deployments to hold a comma-joined list of
// capture roots. It is never written, and Keys skips it.
var LegacyIndexKey = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// NewKey returns a fresh random Key.
func NewKey() Key { return uuid.New() }

// ParseKey parses the canonical text form of a Key.
func ParseKey(s string) (Key, error) { return uuid.Parse(s) }

// KeyComparator orders Keys by their bytes.
func KeyComparator(a, b Key) int {
	return bytes.Compare(a[:], b[:])
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return KeyComparator(keys[i], keys[j]) < 0 })
}
