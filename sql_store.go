package telemdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// sqlKeysPageSize is the number of keys fetched per query by SQLStore.Keys.
const sqlKeysPageSize = 512

// SQLStore is a Store of a "database/sql" database, having tables:
//
//	CREATE TABLE telemdb_records (
//	  key   TEXT PRIMARY KEY NOT NULL,
//	  value TEXT NOT NULL,
//	  hash  TEXT NOT NULL
//	);
//	CREATE TABLE telemdb_captures (
//	  location  TEXT PRIMARY KEY NOT NULL,
//	  system    TEXT NOT NULL,
//	  created   BIGINT NOT NULL,
//	  frequency DOUBLE PRECISION NOT NULL
//	);
//
// which are created if they don't exist. Statements are portable across the
// "sqlite3" and "postgres" drivers.
type SQLStore struct {
	DB     *sql.DB
	driver string
}

// OpenSQLStore opens the database dsn of driver ("sqlite3" or "postgres").
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var db, err = sql.Open(driver, dsn)
	if err != nil {
		return nil, storeErr("open", NilKey, err)
	}
	if driver == "sqlite3" {
		// A single connection serializes writers of the database file.
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.WithField("driver", driver).Info("opened SQL store")
	return store, nil
}

// NewSQLStore returns a SQLStore of db, creating its tables if required.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS telemdb_records (
			key   TEXT PRIMARY KEY NOT NULL,
			value TEXT NOT NULL,
			hash  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telemdb_captures (
			location  TEXT PRIMARY KEY NOT NULL,
			system    TEXT NOT NULL,
			created   BIGINT NOT NULL,
			frequency DOUBLE PRECISION NOT NULL
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, storeErr("create table", NilKey, err)
		}
	}
	return &SQLStore{DB: db, driver: driver}, nil
}

func (s *SQLStore) Read(ctx context.Context, key Key) (string, error) {
	var value string
	var err = s.DB.QueryRowContext(ctx,
		"SELECT value FROM telemdb_records WHERE key = $1;", key.String()).Scan(&value)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	} else if err != nil {
		return "", storeErr("read", key, err)
	}
	return value, nil
}

func (s *SQLStore) Write(ctx context.Context, key Key, value string) error {
	var _, err = s.DB.ExecContext(ctx, `
		INSERT INTO telemdb_records (key, value, hash) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, hash = excluded.hash;`,
		key.String(), value, hashValue(value))
	return storeErr("write", key, err)
}

func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	var _, err = s.DB.ExecContext(ctx,
		"DELETE FROM telemdb_records WHERE key = $1;", key.String())
	return storeErr("delete", key, err)
}

// Keys lists keys in pages, so no query is open while fn runs.
func (s *SQLStore) Keys(ctx context.Context, fn func(Key) error) error {
	var after = ""
	for {
		var keys, err = s.keysAfter(ctx, after)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if key == LegacyIndexKey {
				continue
			}
			if err = fn(key); err != nil {
				return err
			}
		}
		if len(keys) < sqlKeysPageSize {
			return nil
		}
		after = keys[len(keys)-1].String()
	}
}

func (s *SQLStore) keysAfter(ctx context.Context, after string) ([]Key, error) {
	var rows, err = s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT key FROM telemdb_records WHERE key > $1 ORDER BY key LIMIT %d;", sqlKeysPageSize), after)
	if err != nil {
		return nil, storeErr("keys", NilKey, err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var str string
		if err = rows.Scan(&str); err != nil {
			return nil, storeErr("keys", NilKey, err)
		}
		key, err := ParseKey(str)
		if err != nil {
			return nil, storeErr("keys", NilKey, errors.Wrapf(err, "malformed key %q", str))
		}
		keys = append(keys, key)
	}
	return keys, storeErr("keys", NilKey, rows.Err())
}

// Hashes queries in chunks of sqlKeysPageSize keys, which bounds the number
// of bind parameters per statement.
func (s *SQLStore) Hashes(ctx context.Context, keys []Key) (map[Key]string, error) {
	out := make(map[Key]string, len(keys))
	for len(keys) != 0 {
		n := len(keys)
		if n > sqlKeysPageSize {
			n = sqlKeysPageSize
		}
		if err := s.hashesOf(ctx, keys[:n], out); err != nil {
			return nil, err
		}
		keys = keys[n:]
	}
	return out, nil
}

func (s *SQLStore) hashesOf(ctx context.Context, keys []Key, out map[Key]string) error {
	args := make([]interface{}, len(keys))
	params := make([]string, len(keys))
	for i, key := range keys {
		args[i] = key.String()
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT key, hash FROM telemdb_records WHERE key IN (%s);", strings.Join(params, ", ")), args...)
	if err != nil {
		return storeErr("hashes", NilKey, err)
	}
	defer rows.Close()

	for rows.Next() {
		var str, hash string
		if err = rows.Scan(&str, &hash); err != nil {
			return storeErr("hashes", NilKey, err)
		}
		key, err := ParseKey(str)
		if err != nil {
			return storeErr("hashes", NilKey, errors.Wrapf(err, "malformed key %q", str))
		}
		out[key] = hash
	}
	return storeErr("hashes", NilKey, rows.Err())
}

func (s *SQLStore) AddCaptureDescription(ctx context.Context, desc CaptureDescription) error {
	var _, err = s.DB.ExecContext(ctx, `
		INSERT INTO telemdb_captures (location, system, created, frequency) VALUES ($1, $2, $3, $4)
		ON CONFLICT (location) DO UPDATE SET
			system = excluded.system, created = excluded.created, frequency = excluded.frequency;`,
		desc.Location.String(), desc.System, desc.Created.UnixNano(), desc.Frequency)
	return storeErr("add description", desc.Location, err)
}

func (s *SQLStore) CaptureDescriptions(ctx context.Context, fn func(CaptureDescription) error) error {
	var rows, err = s.DB.QueryContext(ctx,
		"SELECT location, system, created, frequency FROM telemdb_captures ORDER BY created;")
	if err != nil {
		return storeErr("descriptions", NilKey, err)
	}
	var descs []CaptureDescription
	for rows.Next() {
		var desc CaptureDescription
		var location string
		var created int64

		if err = rows.Scan(&location, &desc.System, &created, &desc.Frequency); err != nil {
			break
		} else if desc.Location, err = ParseKey(location); err != nil {
			err = errors.Wrapf(err, "malformed location %q", location)
			break
		}
		desc.Created = time.Unix(0, created).UTC()
		descs = append(descs, desc)
	}
	if err == nil {
		err = rows.Err()
	}
	_ = rows.Close()

	if err != nil {
		return storeErr("descriptions", NilKey, err)
	}
	for _, desc := range descs {
		if err = fn(desc); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) RemoveCaptureDescription(ctx context.Context, location Key) error {
	var _, err = s.DB.ExecContext(ctx,
		"DELETE FROM telemdb_captures WHERE location = $1;", location.String())
	return storeErr("remove description", location, err)
}

func (s *SQLStore) Close() error { return s.DB.Close() }
