package telemdb

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// SensorType identifies the value type produced by a sensor.
type SensorType string

// Capture is a recording session: ordered Samples of a fixed set of sensors.
type Capture interface {
	// AddSample appends a Sample of data at the next index, stamped with
	// the current time.
	AddSample(ctx context.Context, data map[string]string) error
	// Samples returns a new iterator over all Samples. It may be called
	// any number of times.
	Samples(ctx context.Context) SampleIterator
	SampleCount() int
	Save(ctx context.Context) error
	Load(ctx context.Context) error

	SensorNames() []string
	SensorTypes() map[string]SensorType
	Frequency() float64
	Location() Location
	Description() CaptureDescription
}

// CaptureKind selects a Capture implementation.
type CaptureKind int

const (
	// PagingKind captures store Samples in a chain of pages.
	PagingKind CaptureKind = iota
	// MemoryKind captures hold every Sample in memory, and store them as
	// one document. Use only for short captures.
	MemoryKind
)

func (k CaptureKind) String() string {
	switch k {
	case PagingKind:
		return "paging"
	case MemoryKind:
		return "memory"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseCaptureKind parses the String form of a CaptureKind.
func ParseCaptureKind(s string) (CaptureKind, error) {
	switch s {
	case "paging":
		return PagingKind, nil
	case "memory":
		return MemoryKind, nil
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "unknown capture kind %q", s)
	}
}

// CaptureOptions are optional parameters of a new Capture.
type CaptureOptions struct {
	// PageSize of a paging capture. Zero means DefaultPageSize.
	PageSize int
	// System which owns the capture.
	System string
	// Clock stamps samples. Zero means time.Now.
	Clock func() time.Time
}

func (o CaptureOptions) now() time.Time {
	if o.Clock == nil {
		return time.Now().UTC()
	}
	return o.Clock().UTC()
}

// captureMeta is the state shared by Capture implementations.
type captureMeta struct {
	loc       Location
	kind      CaptureKind
	sensors   map[string]SensorType
	frequency float64
	created   time.Time
	opts      CaptureOptions
}

func newCaptureMeta(loc Location, kind CaptureKind, sensors map[string]SensorType, frequency float64, opts CaptureOptions) (captureMeta, error) {
	if frequency < 0 {
		return captureMeta{}, errors.Wrapf(ErrInvalidArgument, "frequency %v", frequency)
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	} else if opts.PageSize < 0 {
		return captureMeta{}, errors.Wrapf(ErrInvalidArgument, "page size %d", opts.PageSize)
	}
	if err := checkXMLText("system", opts.System); err != nil {
		return captureMeta{}, err
	}
	copied := make(map[string]SensorType, len(sensors))
	for name, typ := range sensors {
		if err := checkXMLText("sensor name", name); err != nil {
			return captureMeta{}, err
		} else if err = checkXMLText("sensor type", string(typ)); err != nil {
			return captureMeta{}, err
		}
		copied[name] = typ
	}
	return captureMeta{
		loc:       loc,
		kind:      kind,
		sensors:   copied,
		frequency: frequency,
		created:   opts.now(),
		opts:      opts,
	}, nil
}

func (c *captureMeta) Location() Location { return c.loc }
func (c *captureMeta) Frequency() float64 { return c.frequency }

func (c *captureMeta) SensorNames() []string {
	names := make([]string, 0, len(c.sensors))
	for name := range c.sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *captureMeta) SensorTypes() map[string]SensorType {
	out := make(map[string]SensorType, len(c.sensors))
	for name, typ := range c.sensors {
		out[name] = typ
	}
	return out
}

func (c *captureMeta) Description() CaptureDescription {
	return CaptureDescription{
		Location:  c.loc.Key,
		System:    c.opts.System,
		Created:   c.created,
		Frequency: c.frequency,
	}
}

// interval between Samples at the capture frequency.
func (c *captureMeta) interval() time.Duration {
	if c.frequency == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.frequency)
}

// newSample builds the Sample at index of data, which may only name
// sensors of the capture.
func (c *captureMeta) newSample(index uint64, data map[string]string) (Sample, error) {
	copied := make(map[string]string, len(data))
	for name, value := range data {
		if _, ok := c.sensors[name]; !ok {
			return Sample{}, errors.Wrapf(ErrInvalidArgument, "sensor %q is not part of capture %s", name, c.loc)
		}
		copied[name] = value
	}
	return Sample{Index: index, Time: c.opts.now(), SensorData: copied}, nil
}

func (c *captureMeta) document() captureDoc {
	doc := captureDoc{
		Kind:      c.kind.String(),
		System:    c.opts.System,
		Created:   formatTime(c.created),
		Frequency: c.frequency,
		PageSize:  c.opts.PageSize,
	}
	for _, name := range c.SensorNames() {
		doc.Sensors = append(doc.Sensors, sensorDoc{Name: name, Type: string(c.sensors[name])})
	}
	return doc
}

// restore replaces capture metadata with that of doc.
func (c *captureMeta) restore(doc captureDoc) error {
	if doc.Kind != c.kind.String() {
		return formatErr(nil, "capture %s is of kind %q (expected %q)", c.loc, doc.Kind, c.kind)
	}
	created, err := parseTime(doc.Created)
	if err != nil {
		return formatErr(err, "capture %s created time", c.loc)
	}
	sensors := make(map[string]SensorType, len(doc.Sensors))
	for _, s := range doc.Sensors {
		sensors[s.Name] = SensorType(s.Type)
	}
	c.sensors = sensors
	c.frequency = doc.Frequency
	c.created = created
	c.opts.System = doc.System
	if doc.PageSize > 0 {
		c.opts.PageSize = doc.PageSize
	}
	return nil
}

func (c *captureMeta) write(ctx context.Context, doc captureDoc) error {
	b, err := xml.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encoding capture %s", c.loc)
	}
	if err = c.loc.Write(ctx, string(b)); err != nil {
		return storeErr("write", c.loc.Key, err)
	}
	if err = c.loc.Store.AddCaptureDescription(ctx, c.Description()); err != nil {
		return storeErr("add description", c.loc.Key, err)
	}
	return nil
}

// read returns the capture document, or ErrNotFound.
func (c *captureMeta) read(ctx context.Context) (captureDoc, error) {
	var doc captureDoc
	value, err := c.loc.Read(ctx)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrFormat) {
		return doc, err
	} else if err != nil {
		return doc, storeErr("read", c.loc.Key, err)
	}
	if err = xml.Unmarshal([]byte(value), &doc); err != nil {
		return doc, formatErr(err, "decoding capture %s", c.loc)
	}
	return doc, nil
}

type captureDoc struct {
	XMLName   xml.Name    `xml:"capture"`
	Kind      string      `xml:"kind,attr"`
	System    string      `xml:"system"`
	Created   string      `xml:"created"`
	Frequency float64     `xml:"frequency"`
	PageSize  int         `xml:"pagesize,omitempty"`
	Sensors   []sensorDoc `xml:"sensors>sensor"`
	Manager   string      `xml:"manager,omitempty"`
	Samples   []sampleDoc `xml:"samples>sample"`
}

// ReadCaptureKind returns the CaptureKind of the capture stored at loc.
func ReadCaptureKind(ctx context.Context, loc Location) (CaptureKind, error) {
	meta := captureMeta{loc: loc}
	doc, err := meta.read(ctx)
	if err != nil {
		return 0, err
	}
	kind, err := ParseCaptureKind(doc.Kind)
	if err != nil {
		return 0, formatErr(err, "capture %s kind", loc)
	}
	return kind, nil
}

func deleteCapture(ctx context.Context, loc Location) error {
	if err := loc.Store.RemoveCaptureDescription(ctx, loc.Key); err != nil {
		return storeErr("remove description", loc.Key, err)
	}
	if err := loc.Delete(ctx); err != nil {
		return storeErr("delete", loc.Key, err)
	}
	return nil
}
