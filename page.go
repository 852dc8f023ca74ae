package telemdb

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// DefaultPageSize is the number of samples held by a page when
	// not otherwise configured.
	DefaultPageSize = 1000
)

// Page is a fixed-capacity run of consecutive Samples, persisted at its
// Location and linked to its successor by key.
type Page struct {
	loc        Location
	startIndex uint64
	pageSize   int
	startTime  time.Time
	interval   time.Duration
	// nextKey is allocated up front, before a successor is known to be needed.
	nextKey Key
	samples []Sample
}

// NewPage returns an empty Page bound to loc.
func NewPage(loc Location, startIndex uint64, pageSize int, startTime time.Time, interval time.Duration) *Page {
	return &Page{
		loc:        loc,
		startIndex: startIndex,
		pageSize:   pageSize,
		startTime:  startTime,
		interval:   interval,
		nextKey:    NewKey(),
		samples:    make([]Sample, 0, pageSize),
	}
}

func (p *Page) Location() Location { return p.loc }
func (p *Page) NextKey() Key       { return p.nextKey }
func (p *Page) StartIndex() uint64 { return p.startIndex }
func (p *Page) PageSize() int      { return p.pageSize }
func (p *Page) SampleCount() int   { return len(p.samples) }
func (p *Page) IsFull() bool       { return len(p.samples) >= p.pageSize }

// endIndex is the index of the next Sample to be added.
func (p *Page) endIndex() uint64 { return p.startIndex + uint64(len(p.samples)) }

// Sample returns the Sample at index, which must be held by the page.
func (p *Page) Sample(index uint64) (Sample, error) {
	if index < p.startIndex || index >= p.endIndex() {
		return Sample{}, pageFault("index %d not in page %s [%d, %d)", index, p.loc, p.startIndex, p.endIndex())
	}
	return p.samples[index-p.startIndex], nil
}

// AddSample appends s, which must have the next index of a non-full page.
// Sensor names must be XML text; values may hold any bytes.
func (p *Page) AddSample(s Sample) error {
	if p.IsFull() {
		return pageFault("page %s is full (%d samples)", p.loc, p.pageSize)
	} else if s.Index != p.endIndex() {
		return pageFault("sample index %d out of order (expected %d)", s.Index, p.endIndex())
	}
	for name := range s.SensorData {
		if err := checkXMLText("sensor name", name); err != nil {
			return err
		}
	}
	p.samples = append(p.samples, s)
	return nil
}

// NextPage returns the successor of a full page, loaded from its
// pre-allocated key, or nil if the page isn't full. A successor which cannot
// be read is logged and returned empty: it's indistinguishable from one not
// yet written.
func (p *Page) NextPage(ctx context.Context) *Page {
	if !p.IsFull() {
		return nil
	}
	next := p.successor()

	if _, err := next.load(ctx); err != nil {
		log.WithFields(log.Fields{
			"page": p.loc,
			"next": p.nextKey,
			"err":  err,
		}).Warn("failed to load successor page (treating as empty)")
		next = p.successor()
	}
	return next
}

func (p *Page) successor() *Page {
	return NewPage(p.loc.At(p.nextKey),
		p.startIndex+uint64(p.pageSize),
		p.pageSize,
		p.startTime.Add(time.Duration(p.pageSize)*p.interval),
		p.interval)
}

// Save writes the page through its Location.
func (p *Page) Save(ctx context.Context) error {
	value, err := marshalPage(p)
	if err != nil {
		return errors.Wrapf(err, "encoding page %s", p.loc)
	}
	if err = p.loc.Write(ctx, value); err != nil {
		return storeErr("write", p.loc.Key, err)
	}
	pagesPersistedTotal.Inc()

	log.WithFields(log.Fields{
		"page":    p.loc,
		"start":   p.startIndex,
		"samples": len(p.samples),
		"size":    humanize.Bytes(uint64(len(value))),
	}).Debug("persisted page")
	return nil
}

// Load reads the page through its Location. An absent page keeps its
// constructed (empty) state.
func (p *Page) Load(ctx context.Context) error {
	_, err := p.load(ctx)
	return err
}

// load is Load which also reports whether the page was present.
func (p *Page) load(ctx context.Context) (bool, error) {
	value, err := p.loc.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if errors.Is(err, ErrFormat) {
		return false, err
	} else if err != nil {
		return false, storeErr("read", p.loc.Key, err)
	}
	return true, unmarshalPage(value, p)
}
