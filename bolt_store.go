package telemdb

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/boltdb/bolt"
	log "github.com/sirupsen/logrus"
)

var (
	boltRecords      = []byte("records")
	boltHashes       = []byte("hashes")
	boltDescriptions = []byte("descriptions")
)

// boltKeysPageSize is the number of keys read per transaction by BoltStore.Keys.
const boltKeysPageSize = 512

// BoltOptions represents the options that can be set when opening a BoltStore.
type BoltOptions struct {
	// Timeout is the amount of time to wait to obtain a file lock.
	// When set to zero it will wait indefinitely.
	Timeout time.Duration

	// Setting the NoSync flag will cause the database to skip fsync()
	// calls after each commit. THIS IS UNSAFE. PLEASE USE WITH CAUTION.
	NoSync bool

	// Open database in read-only mode.
	ReadOnly bool
}

var DefaultBoltOptions = &BoltOptions{
	Timeout: time.Second,
}

// BoltStore is a Store of an embedded bolt database file.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string, mode os.FileMode, options *BoltOptions) (*BoltStore, error) {
	if options == nil {
		options = DefaultBoltOptions
	}
	var db, err = bolt.Open(path, mode, &bolt.Options{
		Timeout:  options.Timeout,
		ReadOnly: options.ReadOnly,
	})
	if err != nil {
		return nil, storeErr("open", NilKey, err)
	}
	db.NoSync = options.NoSync

	if !options.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{boltRecords, boltHashes, boltDescriptions} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		_ = db.Close()
		return nil, storeErr("open", NilKey, err)
	}
	log.WithField("path", path).Info("opened bolt store")
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Read(_ context.Context, key Key) (string, error) {
	var value string
	var found bool

	var err = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(boltRecords); b != nil {
			// Cursor.Seek distinguishes an empty value from an absent one.
			if k, v := b.Cursor().Seek(key[:]); bytes.Equal(k, key[:]) {
				value, found = string(v), true
			}
		}
		return nil
	})
	if err != nil {
		return "", storeErr("read", key, err)
	} else if !found {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *BoltStore) Write(_ context.Context, key Key, value string) error {
	var hash = hashValue(value)

	return storeErr("write", key, s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltRecords).Put(key[:], []byte(value)); err != nil {
			return err
		}
		return tx.Bucket(boltHashes).Put(key[:], []byte(hash))
	}))
}

func (s *BoltStore) Delete(_ context.Context, key Key) error {
	return storeErr("delete", key, s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltRecords).Delete(key[:]); err != nil {
			return err
		}
		return tx.Bucket(boltHashes).Delete(key[:])
	}))
}

// Keys reads keys in pages, so that no transaction is open while fn runs.
func (s *BoltStore) Keys(ctx context.Context, fn func(Key) error) error {
	var after []byte
	for {
		var keys []Key

		var err = s.db.View(func(tx *bolt.Tx) error {
			var b = tx.Bucket(boltRecords)
			if b == nil {
				return nil
			}
			var c = b.Cursor()
			var k []byte
			if after == nil {
				k, _ = c.First()
			} else if k, _ = c.Seek(after); k != nil && bytes.Equal(k, after) {
				k, _ = c.Next()
			}
			for ; k != nil && len(keys) != boltKeysPageSize; k, _ = c.Next() {
				var key Key
				copy(key[:], k)
				keys = append(keys, key)
			}
			return nil
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return storeErr("keys", NilKey, err)
		}

		for _, key := range keys {
			if key == LegacyIndexKey {
				continue
			}
			if err = fn(key); err != nil {
				return err
			}
		}
		if len(keys) < boltKeysPageSize {
			return nil
		}
		var last = keys[len(keys)-1]
		after = append([]byte(nil), last[:]...)
	}
}

func (s *BoltStore) Hashes(_ context.Context, keys []Key) (map[Key]string, error) {
	var out = make(map[Key]string, len(keys))

	var err = s.db.View(func(tx *bolt.Tx) error {
		var b = tx.Bucket(boltHashes)
		if b == nil {
			return nil
		}
		for _, key := range keys {
			if v := b.Get(key[:]); v != nil {
				out[key] = string(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("hashes", NilKey, err)
	}
	return out, nil
}

func (s *BoltStore) AddCaptureDescription(_ context.Context, desc CaptureDescription) error {
	var b, err = marshalDescription(desc)
	if err != nil {
		return storeErr("add description", desc.Location, err)
	}
	return storeErr("add description", desc.Location, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltDescriptions).Put(desc.Location[:], b)
	}))
}

func (s *BoltStore) CaptureDescriptions(_ context.Context, fn func(CaptureDescription) error) error {
	var descs []CaptureDescription

	var err = s.db.View(func(tx *bolt.Tx) error {
		var b = tx.Bucket(boltDescriptions)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var desc, err = unmarshalDescription(v)
			if err != nil {
				return err
			}
			descs = append(descs, desc)
			return nil
		})
	})
	if err != nil {
		return storeErr("descriptions", NilKey, err)
	}
	sortDescriptions(descs)

	for _, desc := range descs {
		if err = fn(desc); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) RemoveCaptureDescription(_ context.Context, location Key) error {
	return storeErr("remove description", location, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltDescriptions).Delete(location[:])
	}))
}

func (s *BoltStore) Close() error { return s.db.Close() }
