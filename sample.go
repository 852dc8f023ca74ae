package telemdb

import (
	"sort"
	"time"
)

// Sample is one timestamped set of sensor readings at an ordinal Index
// of its capture.
type Sample struct {
	Index      uint64
	Time       time.Time
	SensorData map[string]string
}

// sensorNames returns the sorted sensor names of the Sample.
func (s Sample) sensorNames() []string {
	names := make([]string, 0, len(s.SensorData))
	for name := range s.SensorData {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleIterator is a finite, single-pass sequence of Samples.
//
//	var it = capture.Samples(ctx)
//	for it.Next() {
//	    use(it.Sample())
//	}
//	if it.Err() != nil { ... }
type SampleIterator interface {
	// Next advances to the next Sample, returning false when the sequence
	// is exhausted or has failed.
	Next() bool
	// Sample returns the current Sample.
	Sample() Sample
	// Err returns the error which stopped iteration, if any.
	Err() error
	// Truncated is true if iteration ended early because a page of the
	// chain could not be read.
	Truncated() bool
}

type sliceIterator struct {
	samples []Sample
	pos     int
}

func newSliceIterator(samples []Sample) *sliceIterator {
	return &sliceIterator{samples: samples, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.samples) {
		it.pos = len(it.samples)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Sample() Sample  { return it.samples[it.pos] }
func (it *sliceIterator) Err() error      { return nil }
func (it *sliceIterator) Truncated() bool { return false }

// CollectSamples drains it into a slice.
func CollectSamples(it SampleIterator) ([]Sample, error) {
	var out []Sample
	for it.Next() {
		out = append(out, it.Sample())
	}
	return out, it.Err()
}
