package telemdb

import (
	"context"

	"github.com/pkg/errors"
)

// PagingCapture stores its Samples through a PageManager, bounding memory
// use regardless of capture length.
type PagingCapture struct {
	captureMeta
	pages *PageManager
}

func NewPagingCapture(loc Location, sensors map[string]SensorType, frequency float64, opts CaptureOptions) (*PagingCapture, error) {
	meta, err := newCaptureMeta(loc, PagingKind, sensors, frequency, opts)
	if err != nil {
		return nil, err
	}
	return &PagingCapture{captureMeta: meta}, nil
}

// Pages returns the PageManager, or nil if no Sample was added.
func (c *PagingCapture) Pages() *PageManager { return c.pages }

// AddSample builds the PageManager on the first valid Sample, starting at
// its time.
func (c *PagingCapture) AddSample(ctx context.Context, data map[string]string) error {
	s, err := c.newSample(uint64(c.SampleCount()), data)
	if err != nil {
		return err
	}
	if c.pages == nil {
		m, err := NewPageManager(c.loc.At(NewKey()), c.opts.PageSize, s.Time, c.interval())
		if err != nil {
			return err
		}
		c.pages = m
	}
	return c.pages.AddSample(ctx, s)
}

func (c *PagingCapture) Samples(ctx context.Context) SampleIterator {
	if c.pages == nil {
		return newSliceIterator(nil)
	}
	return c.pages.Samples(ctx)
}

func (c *PagingCapture) SampleCount() int {
	if c.pages == nil {
		return 0
	}
	return c.pages.SampleCount()
}

func (c *PagingCapture) Save(ctx context.Context) error {
	doc := c.document()
	if c.pages != nil {
		if err := c.pages.Save(ctx); err != nil {
			return err
		}
		doc.Manager = c.pages.loc.Key.String()
	}
	return c.write(ctx, doc)
}

// Load replaces the capture with the one stored at its Location.
func (c *PagingCapture) Load(ctx context.Context) error {
	doc, err := c.read(ctx)
	if err != nil {
		return err
	} else if err = c.restore(doc); err != nil {
		return err
	}
	if doc.Manager == "" {
		c.pages = nil
		return nil
	}
	key, err := ParseKey(doc.Manager)
	if err != nil {
		return formatErr(err, "capture %s manager key", c.loc)
	}
	m, err := NewPageManager(c.loc.At(key), c.opts.PageSize, c.created, c.interval())
	if err != nil {
		return err
	}
	if err = m.Load(ctx); err != nil {
		return errors.WithMessagef(err, "loading pages of capture %s", c.loc)
	}
	c.pages = m
	return nil
}

// Delete removes the capture, its pages, and its description.
func (c *PagingCapture) Delete(ctx context.Context) error {
	if c.pages != nil {
		if err := c.pages.Delete(ctx); err != nil {
			return err
		}
		c.pages = nil
	}
	return deleteCapture(ctx, c.loc)
}
