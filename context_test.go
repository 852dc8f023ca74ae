package telemdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	var cfg Config
	cfg.Store.Compression = "snappy"
	cfg.Capture.PageSize = 4
	cfg.Capture.System = "bench-1"
	return cfg
}

func TestParseStoreKind(t *testing.T) {
	for _, kind := range []StoreKind{InMemory, EmbeddedDb, RemoteKeyValue} {
		var parsed, err = ParseStoreKind(kind.String())
		assertion.NoError(t, err)
		assertion.Equal(t, kind, parsed)
	}
	var _, err = ParseStoreKind("floppy")
	assertion.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestOpenStore(t *testing.T) {
	var ctx = context.Background()
	var dir = t.TempDir()

	for _, rawURL := range []string{
		"memory://",
		"sqlite://" + filepath.Join(dir, "a.db"),
		"bolt://" + filepath.Join(dir, "a.bolt"),
	} {
		var store, err = OpenStore(ctx, rawURL)
		require.NoError(t, err, rawURL)

		var key = NewKey()
		require.NoError(t, store.Write(ctx, key, "value"))
		value, err := store.Read(ctx, key)
		assertion.NoError(t, err)
		assertion.Equal(t, "value", value)
		assertion.NoError(t, store.Close())
	}

	for _, rawURL := range []string{"ftp://host/path", "::not a url"} {
		var _, err = OpenStore(ctx, rawURL)
		assertion.True(t, errors.Is(err, ErrInvalidArgument), rawURL)
	}
}

func TestAppContextStores(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var cfg = testConfig()
	cfg.Store.Embedded = "bolt://" + filepath.Join(t.TempDir(), "embedded.bolt")

	var app = NewAppContext(cfg)
	defer func() { assert.NoError(app.Close()) }()

	// Each kind is opened once.
	a, err := app.Store(ctx, EmbeddedDb)
	require.NoError(t, err)
	b, err := app.Store(ctx, EmbeddedDb)
	require.NoError(t, err)
	assert.True(a == b)
	assert.IsType(&CompressingStore{}, a)
	assert.IsType(&BoltStore{}, baseStore(a))

	mem, err := app.Store(ctx, InMemory)
	require.NoError(t, err)
	assert.IsType(&MemoryStore{}, baseStore(mem))

	// The remote store has no configured URL.
	_, err = app.Store(ctx, RemoteKeyValue)
	assert.True(errors.Is(err, ErrInvalidArgument))

	// Installed stores are used as-is, behind compression.
	var remote = NewMemoryStore()
	require.NoError(t, app.SetStore(RemoteKeyValue, remote))
	assert.True(errors.Is(app.SetStore(RemoteKeyValue, remote), ErrInvalidArgument))

	r, err := app.Store(ctx, RemoteKeyValue)
	require.NoError(t, err)
	assert.True(baseStore(r) == Store(remote))
}

func TestAppContextWithoutCompression(t *testing.T) {
	var cfg = testConfig()
	cfg.Store.Compression = "none"
	var app = NewAppContext(cfg)

	var store, err = app.Store(context.Background(), InMemory)
	require.NoError(t, err)
	assertion.IsType(t, &MemoryStore{}, store)

	cfg.Store.Compression = "brotli"
	app = NewAppContext(cfg)
	_, err = app.Store(context.Background(), InMemory)
	assertion.Error(t, err)
}

func TestAppContextCaptures(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var app = NewAppContext(testConfig())
	defer app.Close()

	var keys []Key
	for _, kind := range []CaptureKind{PagingKind, MemoryKind} {
		var c, err = app.NewCapture(ctx, kind, InMemory, testSensors(), 25)
		require.NoError(t, err)
		for i := 0; i != 10; i++ {
			require.NoError(t, c.AddSample(ctx, testData(i)))
		}
		require.NoError(t, c.Save(ctx))
		assert.Equal("bench-1", c.Description().System)
		keys = append(keys, c.Location().Key)
	}
	var paging, _ = app.NewCapture(ctx, PagingKind, InMemory, testSensors(), 25)
	assert.Equal(4, paging.(*PagingCapture).opts.PageSize)

	_, err := app.NewCapture(ctx, CaptureKind(99), InMemory, testSensors(), 1)
	assert.True(errors.Is(err, ErrInvalidArgument))

	// Opened captures are of the kind they were created as.
	for i, key := range keys {
		var c, err = app.OpenCapture(ctx, InMemory, key)
		require.NoError(t, err)
		assert.Equal(10, c.SampleCount())
		assert.Equal(25.0, c.Frequency())

		var samples, _ = CollectSamples(c.Samples(ctx))
		assert.Len(samples, 10)
		assert.Equal(testData(9), samples[9].SensorData)

		if i == 0 {
			assert.IsType(&PagingCapture{}, c)
		} else {
			assert.IsType(&MemoryCapture{}, c)
		}
	}

	_, err = app.OpenCapture(ctx, InMemory, NewKey())
	assert.True(errors.Is(err, ErrNotFound))

	var listed []Key
	require.NoError(t, app.Captures(ctx, InMemory, func(desc CaptureDescription) error {
		listed = append(listed, desc.Location)
		return nil
	}))
	assert.ElementsMatch(keys, listed)
}

func TestAppContextTransporters(t *testing.T) {
	assert := assertion.New(t)
	var ctx = context.Background()
	var app = NewAppContext(testConfig())
	defer app.Close()

	var embedded = NewMemoryStore()
	var remote = NewMemoryStore()
	require.NoError(t, app.SetStore(EmbeddedDb, embedded))
	require.NoError(t, app.SetStore(RemoteKeyValue, remote))

	var _, err = app.Transporter(ctx, EmbeddedDb, EmbeddedDb)
	assert.True(errors.Is(err, ErrInvalidArgument))

	tr, err := app.Transporter(ctx, EmbeddedDb, RemoteKeyValue)
	require.NoError(t, err)
	again, err := app.Transporter(ctx, EmbeddedDb, RemoteKeyValue)
	require.NoError(t, err)
	assert.True(tr == again)

	reverse, err := app.Transporter(ctx, RemoteKeyValue, EmbeddedDb)
	require.NoError(t, err)
	assert.False(tr == reverse)

	// A capture written to the embedded store is readable from the remote
	// store once synchronized.
	c, err := app.NewCapture(ctx, PagingKind, EmbeddedDb, testSensors(), 1)
	require.NoError(t, err)
	for i := 0; i != 9; i++ {
		require.NoError(t, c.AddSample(ctx, testData(i)))
	}
	require.NoError(t, c.Save(ctx))

	stats, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(embedded.Len(), stats.Transferred)
	assert.Equal(embedded.Len(), remote.Len())

	// Transported values are the compressed encoding.
	var raw, _ = embedded.Read(ctx, c.Location().Key)
	var copied, _ = remote.Read(ctx, c.Location().Key)
	assert.Equal(raw, copied)

	var remoteStore, _ = app.Store(ctx, RemoteKeyValue)
	var loaded, _ = NewPagingCapture(Location{Store: remoteStore, Key: c.Location().Key}, nil, 0, CaptureOptions{})
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(9, loaded.SampleCount())

	tr.Start(ctx)
	assert.Equal(Running, tr.State())
	require.NoError(t, app.Close())
	assert.Equal(Stopped, tr.State())
}

func TestAppContextConfiguredCaptureKind(t *testing.T) {
	var ctx = context.Background()

	for _, tc := range []struct {
		kind   string
		expect Capture
	}{
		{"", &PagingCapture{}},
		{"paging", &PagingCapture{}},
		{"memory", &MemoryCapture{}},
	} {
		var cfg = testConfig()
		cfg.Capture.Kind = tc.kind
		var app = NewAppContext(cfg)

		c, err := app.NewConfiguredCapture(ctx, InMemory, testSensors(), 5)
		require.NoError(t, err, tc.kind)
		assertion.IsType(t, tc.expect, c, tc.kind)
		require.NoError(t, c.AddSample(ctx, testData(0)))
		require.NoError(t, c.Save(ctx))

		// Reopening finds the same kind.
		opened, err := app.OpenCapture(ctx, InMemory, c.Location().Key)
		require.NoError(t, err)
		assertion.IsType(t, tc.expect, opened, tc.kind)
		assertion.NoError(t, app.Close())
	}

	var cfg = testConfig()
	cfg.Capture.Kind = "tape"
	_, err := NewAppContext(cfg).NewConfiguredCapture(ctx, InMemory, testSensors(), 5)
	assertion.True(t, errors.Is(err, ErrInvalidArgument))
}
