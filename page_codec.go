package telemdb

import (
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// encBase64 marks a sensor value which is not representable as XML text.
const encBase64 = "base64"

type pageDoc struct {
	XMLName    xml.Name    `xml:"samplepage"`
	StartIndex uint64      `xml:"startindex"`
	PageSize   int         `xml:"pagesize"`
	StartTime  string      `xml:"starttime"`
	Interval   int64       `xml:"sampleinterval"`
	Next       []string    `xml:"next"` // Older writers emitted <next> twice.
	Samples    []sampleDoc `xml:"samples>sample"`
}

type sampleDoc struct {
	Index   string      `xml:"index,attr,omitempty"`
	Time    string      `xml:"time,attr,omitempty"`
	Sensors []sensorDoc `xml:"sensor"`
}

type sensorDoc struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Enc   string `xml:"enc,attr,omitempty"`
	Value string `xml:",chardata"`
}

// isXMLText is true if s is valid UTF-8 made only of characters which XML
// text may hold.
func isXMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t', r == '\n', r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= utf8.MaxRune:
		default:
			return false
		}
	}
	return true
}

// checkXMLText returns ErrInvalidArgument if the what s is not XML text.
func checkXMLText(what, s string) error {
	if !isXMLText(s) {
		return errors.Wrapf(ErrInvalidArgument, "%s %q is not valid XML text", what, s)
	}
	return nil
}

func encodeSensor(name, value string) sensorDoc {
	if isXMLText(value) {
		return sensorDoc{Name: name, Value: value}
	}
	return sensorDoc{Name: name, Enc: encBase64, Value: base64.StdEncoding.EncodeToString([]byte(value))}
}

func decodeSensor(doc sensorDoc) (string, error) {
	switch doc.Enc {
	case "":
		return doc.Value, nil
	case encBase64:
		b, err := base64.StdEncoding.DecodeString(doc.Value)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", errors.Errorf("unknown encoding %q", doc.Enc)
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func encodeSamples(samples []Sample) []sampleDoc {
	docs := make([]sampleDoc, len(samples))
	for i, s := range samples {
		doc := sampleDoc{
			Index:   strconv.FormatUint(s.Index, 10),
			Time:    formatTime(s.Time),
			Sensors: make([]sensorDoc, 0, len(s.SensorData)),
		}
		// Sorted names keep the document, and therefore its hash, stable.
		for _, name := range s.sensorNames() {
			doc.Sensors = append(doc.Sensors, encodeSensor(name, s.SensorData[name]))
		}
		docs[i] = doc
	}
	return docs
}

// decodeSamples decodes documents of consecutive samples starting at
// startIndex. Missing index and time attributes are derived from position.
func decodeSamples(docs []sampleDoc, startIndex uint64, startTime time.Time, interval time.Duration) ([]Sample, error) {
	samples := make([]Sample, len(docs))
	for i, doc := range docs {
		s := Sample{
			Index:      startIndex + uint64(i),
			Time:       startTime.Add(time.Duration(i) * interval),
			SensorData: make(map[string]string, len(doc.Sensors)),
		}
		if doc.Index != "" {
			index, err := strconv.ParseUint(doc.Index, 10, 64)
			if err != nil {
				return nil, formatErr(err, "sample %d index", i)
			} else if index != s.Index {
				return nil, formatErr(nil, "sample %d has index %d (expected %d)", i, index, s.Index)
			}
		}
		if doc.Time != "" {
			t, err := parseTime(doc.Time)
			if err != nil {
				return nil, formatErr(err, "sample %d time", i)
			}
			s.Time = t
		}
		for _, sensor := range doc.Sensors {
			if _, ok := s.SensorData[sensor.Name]; ok {
				return nil, formatErr(nil, "sample %d repeats sensor %q", i, sensor.Name)
			}
			value, err := decodeSensor(sensor)
			if err != nil {
				return nil, formatErr(err, "sample %d sensor %q", i, sensor.Name)
			}
			s.SensorData[sensor.Name] = value
		}
		samples[i] = s
	}
	return samples, nil
}

func marshalPage(p *Page) (string, error) {
	doc := pageDoc{
		StartIndex: p.startIndex,
		PageSize:   p.pageSize,
		StartTime:  formatTime(p.startTime),
		Interval:   int64(p.interval),
		Next:       []string{p.nextKey.String()},
		Samples:    encodeSamples(p.samples),
	}
	b, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalPage decodes value into p, replacing its state.
func unmarshalPage(value string, p *Page) error {
	var doc pageDoc
	if err := xml.Unmarshal([]byte(value), &doc); err != nil {
		return formatErr(err, "decoding page %s", p.loc)
	}
	if doc.PageSize <= 0 {
		return formatErr(nil, "page %s has page size %d", p.loc, doc.PageSize)
	} else if len(doc.Samples) > doc.PageSize {
		return formatErr(nil, "page %s holds %d samples (page size %d)", p.loc, len(doc.Samples), doc.PageSize)
	}

	switch len(doc.Next) {
	case 1:
	case 2:
		if doc.Next[0] != doc.Next[1] {
			return formatErr(nil, "page %s has conflicting next keys", p.loc)
		}
	default:
		return formatErr(nil, "page %s has %d next keys", p.loc, len(doc.Next))
	}
	next, err := ParseKey(doc.Next[0])
	if err != nil {
		return formatErr(err, "page %s next key", p.loc)
	}

	startTime, err := parseTime(doc.StartTime)
	if err != nil {
		return formatErr(err, "page %s start time", p.loc)
	}
	interval := time.Duration(doc.Interval)

	samples, err := decodeSamples(doc.Samples, doc.StartIndex, startTime, interval)
	if err != nil {
		return err
	}

	p.startIndex = doc.StartIndex
	p.pageSize = doc.PageSize
	p.startTime = startTime
	p.interval = interval
	p.nextKey = next
	p.samples = samples
	return nil
}
