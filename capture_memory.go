package telemdb

import "context"

// MemoryCapture holds every Sample in memory, and persists them as a single
// document at its Location.
type MemoryCapture struct {
	captureMeta
	samples []Sample
}

func NewMemoryCapture(loc Location, sensors map[string]SensorType, frequency float64, opts CaptureOptions) (*MemoryCapture, error) {
	meta, err := newCaptureMeta(loc, MemoryKind, sensors, frequency, opts)
	if err != nil {
		return nil, err
	}
	return &MemoryCapture{captureMeta: meta}, nil
}

func (c *MemoryCapture) AddSample(_ context.Context, data map[string]string) error {
	s, err := c.newSample(uint64(len(c.samples)), data)
	if err != nil {
		return err
	}
	c.samples = append(c.samples, s)
	return nil
}

func (c *MemoryCapture) Samples(context.Context) SampleIterator {
	return newSliceIterator(c.samples[:len(c.samples):len(c.samples)])
}

func (c *MemoryCapture) SampleCount() int { return len(c.samples) }

func (c *MemoryCapture) Save(ctx context.Context) error {
	doc := c.document()
	doc.Samples = encodeSamples(c.samples)
	return c.write(ctx, doc)
}

// Load replaces the capture with the one stored at its Location.
func (c *MemoryCapture) Load(ctx context.Context) error {
	doc, err := c.read(ctx)
	if err != nil {
		return err
	} else if err = c.restore(doc); err != nil {
		return err
	}
	samples, err := decodeSamples(doc.Samples, 0, c.created, c.interval())
	if err != nil {
		return err
	}
	c.samples = samples
	return nil
}

// Delete removes the capture and its description.
func (c *MemoryCapture) Delete(ctx context.Context) error {
	c.samples = nil
	return deleteCapture(ctx, c.loc)
}
