package telemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillStore(t *testing.T, store Store, n int) map[Key]string {
	var out = make(map[Key]string, n)
	for i := 0; i != n; i++ {
		var key, value = NewKey(), fmt.Sprintf("record %d", i)
		require.NoError(t, store.Write(context.Background(), key, value))
		out[key] = value
	}
	return out
}

func requireContents(t *testing.T, store Store, expect map[Key]string) {
	var ctx = context.Background()
	for key, value := range expect {
		var actual, err = store.Read(ctx, key)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, value, actual)
	}
}

func TestTransporterConverges(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var from, to = NewMemoryStore(), NewMemoryStore()
	var records = fillStore(t, from, 250)

	// Some records are already present, one with a stale value, and the
	// destination has a record of its own.
	var n int
	for key, value := range records {
		if n++; n > 40 {
			break
		} else if n == 1 {
			value = "stale"
		}
		require.NoError(t, to.Write(ctx, key, value))
	}
	var extra = fillStore(t, to, 1)

	tr, err := NewTransporter(from, to, TransporterConfig{})
	require.NoError(t, err)

	var transferred = testutil.ToFloat64(syncTransferredTotal)
	var passes = testutil.ToFloat64(syncPassesTotal.WithLabelValues(outcomeOk))

	stats, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 250, Transferred: 211}, stats)
	assert.Equal(transferred+211, testutil.ToFloat64(syncTransferredTotal))
	assert.Equal(passes+1, testutil.ToFloat64(syncPassesTotal.WithLabelValues(outcomeOk)))
	requireContents(t, to, records)
	requireContents(t, to, extra)
	requireContents(t, from, records)

	// A further pass has nothing to do.
	stats, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 250}, stats)

	// With deletion, synchronized source records are removed.
	tr, err = NewTransporter(from, to, TransporterConfig{BatchSize: 7, DeleteAfterTransfer: true})
	require.NoError(t, err)

	var pruned = testutil.ToFloat64(syncPrunedTotal)
	stats, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 250, Pruned: 250}, stats)
	assert.Equal(pruned+250, testutil.ToFloat64(syncPrunedTotal))
	assert.Equal(0, from.Len())
	assert.Equal(251, to.Len())
	requireContents(t, to, records)
}

func TestTransporterCopiesBeforePruning(t *testing.T) {
	var ctx = context.Background()
	var from, to = NewMemoryStore(), NewMemoryStore()
	var records = fillStore(t, from, 3)

	var tr, err = NewTransporter(from, to, TransporterConfig{DeleteAfterTransfer: true})
	require.NoError(t, err)

	stats, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assertion.Equal(t, PassStats{Keys: 3, Transferred: 3}, stats)
	requireContents(t, from, records)

	stats, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assertion.Equal(t, PassStats{Keys: 3, Pruned: 3}, stats)
	assertion.Equal(t, 0, from.Len())
	requireContents(t, to, records)
}

func TestTransporterValidatesArguments(t *testing.T) {
	assert := assertion.New(t)
	var store = NewMemoryStore()
	var compressed, err = NewCompressingStore(store, CompSnappy)
	require.NoError(t, err)

	for _, pair := range [][2]Store{
		{store, store},
		{store, compressed},
		{compressed, store},
		{nil, store},
		{store, nil},
	} {
		_, err = NewTransporter(pair[0], pair[1], TransporterConfig{})
		assert.True(errors.Is(err, ErrInvalidArgument))
	}

	_, err = NewTransporter(store, NewMemoryStore(), TransporterConfig{BatchSize: -1})
	assert.True(errors.Is(err, ErrInvalidArgument))
	_, err = NewTransporter(store, NewMemoryStore(), TransporterConfig{Backoff: -time.Second})
	assert.True(errors.Is(err, ErrInvalidArgument))

	tr, err := NewTransporter(store, NewMemoryStore(), TransporterConfig{})
	require.NoError(t, err)
	assert.Equal(DefaultSyncBatchSize, tr.cfg.BatchSize)
}

func TestTransporterPassFailures(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()

	var from = &failingStore{MemoryStore: NewMemoryStore(), failReads: true}
	var to = &failingStore{MemoryStore: NewMemoryStore()}
	var records = fillStore(t, from.MemoryStore, 5)

	var tr, err = NewTransporter(from, to, TransporterConfig{DeleteAfterTransfer: true})
	require.NoError(t, err)
	var failures = testutil.ToFloat64(syncPassesTotal.WithLabelValues(outcomeFail))

	_, err = tr.RunPass(ctx)
	assert.True(errors.Is(err, ErrStore))
	assert.Equal(failures+1, testutil.ToFloat64(syncPassesTotal.WithLabelValues(outcomeFail)))
	assert.True(errors.Is(err, errInjected))
	assert.Equal(0, to.Len())

	from.failReads, to.failHashes = false, true
	_, err = tr.RunPass(ctx)
	assert.True(errors.Is(err, errInjected))
	assert.Equal(0, to.Len())

	from.failHashes, to.failHashes = true, false
	_, err = tr.RunPass(ctx)
	assert.True(errors.Is(err, errInjected))

	// Once recovered, nothing was lost.
	from.failHashes = false
	_, err = tr.RunPass(ctx)
	require.NoError(t, err)
	requireContents(t, from, records)
	requireContents(t, to, records)
}

func TestTransporterStartAndStop(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var from, to = NewMemoryStore(), NewMemoryStore()
	var records = fillStore(t, from, 20)

	var tr, err = NewTransporter(from, to, TransporterConfig{Backoff: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(Stopped, tr.State())

	tr.Stop() // No-op.
	tr.Start(ctx)
	tr.Start(ctx) // No-op.
	assert.Equal(Running, tr.State())

	require.Eventually(t, func() bool { return to.Len() == 20 }, 5*time.Second, time.Millisecond)

	// Records written while running are picked up by a later pass.
	var more = fillStore(t, from, 5)
	require.Eventually(t, func() bool { return to.Len() == 25 }, 5*time.Second, time.Millisecond)

	tr.Stop()
	assert.Equal(Stopped, tr.State())
	requireContents(t, to, records)
	requireContents(t, to, more)

	// A stopped Transporter may be restarted.
	tr.Start(ctx)
	assert.Equal(Running, tr.State())
	tr.Stop()
}

func TestTransporterStopInterruptsBackoff(t *testing.T) {
	var from, to = NewMemoryStore(), NewMemoryStore()
	fillStore(t, from, 3)

	var tr, err = NewTransporter(from, to, TransporterConfig{Backoff: time.Hour})
	require.NoError(t, err)

	tr.Start(context.Background())
	require.Eventually(t, func() bool { return to.Len() == 3 }, 5*time.Second, time.Millisecond)

	var stopped = make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt backoff")
	}
}

func TestTransporterExitsOnContextCancellation(t *testing.T) {
	var from, to = NewMemoryStore(), NewMemoryStore()
	var ctx, cancel = context.WithCancel(context.Background())
	var tr, err = NewTransporter(from, to, TransporterConfig{Backoff: time.Hour})
	require.NoError(t, err)

	tr.Start(ctx)
	cancel()

	// The worker marks itself stopped without a call to Stop.
	require.Eventually(t, func() bool { return tr.State() == Stopped }, 5*time.Second, time.Millisecond)
	tr.Stop() // No-op.

	// It may then be started again with a live context.
	fillStore(t, from, 2)
	tr.Start(context.Background())
	assertion.Equal(t, Running, tr.State())
	require.Eventually(t, func() bool { return to.Len() == 2 }, 5*time.Second, time.Millisecond)
	tr.Stop()
	assertion.Equal(t, Stopped, tr.State())
}

func TestTransporterAcrossBackends(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var dir = t.TempDir()

	sqlite, err := OpenSQLStore(ctx, "sqlite3", filepath.Join(dir, "from.db")+"?_journal_mode=WAL")
	require.NoError(t, err)
	defer sqlite.Close()
	bolt, err := OpenBoltStore(filepath.Join(dir, "to.bolt"), 0600, nil)
	require.NoError(t, err)
	defer bolt.Close()

	// A capture is written through compression into sqlite.
	from, err := NewCompressingStore(sqlite, CompLz4)
	require.NoError(t, err)
	c, err := NewPagingCapture(NewLocation(from), testSensors(), 10, CaptureOptions{PageSize: 3, Clock: testClock()})
	require.NoError(t, err)
	for i := 0; i != 11; i++ {
		require.NoError(t, c.AddSample(ctx, testData(i)))
	}
	require.NoError(t, c.Save(ctx))
	var expect = collect(t, c)

	tr, err := NewTransporter(sqlite, bolt, TransporterConfig{BatchSize: 2})
	require.NoError(t, err)

	stats, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 6, Transferred: 6}, stats)

	// Both backends now report identical hashes.
	var keys []Key
	require.NoError(t, sqlite.Keys(ctx, func(key Key) error { keys = append(keys, key); return nil }))
	fromHashes, err := sqlite.Hashes(ctx, keys)
	require.NoError(t, err)
	toHashes, err := bolt.Hashes(ctx, keys)
	require.NoError(t, err)
	assert.Len(fromHashes, 6)
	assert.Equal(fromHashes, toHashes)

	// Which makes a further pass a no-op, and a pruning pass complete.
	stats, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 6}, stats)

	tr, err = NewTransporter(sqlite, bolt, TransporterConfig{DeleteAfterTransfer: true})
	require.NoError(t, err)
	stats, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(PassStats{Keys: 6, Pruned: 6}, stats)

	// The capture reads back from the destination.
	to, err := NewCompressingStore(bolt, CompSnappy)
	require.NoError(t, err)
	loaded, err := NewPagingCapture(Location{Store: to, Key: c.Location().Key}, nil, 0, CaptureOptions{})
	require.NoError(t, err)
	require.NoError(t, loaded.Load(ctx))
	requireSameSamples(t, expect, collect(t, loaded))
}
