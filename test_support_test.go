package telemdb

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock returns a clock which advances 10ms on each reading.
func testClock() func() time.Time {
	var now = testStart
	return func() time.Time {
		now = now.Add(10 * time.Millisecond)
		return now
	}
}

func testSensors() map[string]SensorType {
	return map[string]SensorType{"A": "string", "B": "string"}
}

func testData(i int) map[string]string {
	return map[string]string{
		"A": fmt.Sprintf("valA_%d", i),
		"B": fmt.Sprintf("valB_%d", i),
	}
}

func testSample(i int) Sample {
	return Sample{
		Index:      uint64(i),
		Time:       testStart.Add(time.Duration(i) * time.Millisecond),
		SensorData: testData(i),
	}
}

// failingStore fails selected operations of an inner MemoryStore.
type failingStore struct {
	*MemoryStore
	failReads  bool
	failWrites bool
	failHashes bool
}

var errInjected = errors.New("injected failure")

func (s *failingStore) Read(ctx context.Context, key Key) (string, error) {
	if s.failReads {
		return "", storeErr("read", key, errInjected)
	}
	return s.MemoryStore.Read(ctx, key)
}

func (s *failingStore) Write(ctx context.Context, key Key, value string) error {
	if s.failWrites {
		return storeErr("write", key, errInjected)
	}
	return s.MemoryStore.Write(ctx, key, value)
}

func (s *failingStore) Hashes(ctx context.Context, keys []Key) (map[Key]string, error) {
	if s.failHashes {
		return nil, storeErr("hashes", NilKey, errInjected)
	}
	return s.MemoryStore.Hashes(ctx, keys)
}
