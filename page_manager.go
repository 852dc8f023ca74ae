package telemdb

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PageManager owns the head and tail of a chain of Pages. Pages between
// them are never held in memory, and are reached only through their keys.
// PageManager is not safe for concurrent use.
type PageManager struct {
	loc       Location
	pageSize  int
	startTime time.Time
	interval  time.Duration

	firstKey  Key
	lastKey   Key
	pageCount int

	head, tail *Page
}

// NewPageManager returns a PageManager of a single empty page, which
// persists its own state at loc.
func NewPageManager(loc Location, pageSize int, startTime time.Time, interval time.Duration) (*PageManager, error) {
	if pageSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "page size %d", pageSize)
	}
	page := NewPage(loc.At(NewKey()), 0, pageSize, startTime, interval)

	return &PageManager{
		loc:       loc,
		pageSize:  pageSize,
		startTime: startTime,
		interval:  interval,
		firstKey:  page.loc.Key,
		lastKey:   page.loc.Key,
		pageCount: 1,
		head:      page,
		tail:      page,
	}, nil
}

func (m *PageManager) Location() Location   { return m.loc }
func (m *PageManager) PageSize() int        { return m.pageSize }
func (m *PageManager) PageCount() int       { return m.pageCount }
func (m *PageManager) StartTime() time.Time { return m.startTime }
func (m *PageManager) Head() *Page          { return m.head }
func (m *PageManager) Tail() *Page          { return m.tail }

func (m *PageManager) SampleCount() int {
	return (m.pageCount-1)*m.pageSize + m.tail.SampleCount()
}

// AddSample appends s, rolling over to a new tail page if the current one
// is full. The outgoing tail and then the manager state are persisted on
// rollover.
func (m *PageManager) AddSample(ctx context.Context, s Sample) error {
	if expect := uint64(m.SampleCount()); s.Index != expect {
		return pageFault("sample index %d out of order (expected %d)", s.Index, expect)
	}
	if m.tail.IsFull() {
		if err := m.rollover(ctx); err != nil {
			return err
		}
	}
	return m.tail.AddSample(s)
}

func (m *PageManager) rollover(ctx context.Context) error {
	next := m.tail.NextPage(ctx)

	if err := m.tail.Save(ctx); err != nil {
		return errors.WithMessage(err, "persisting full page")
	}
	m.tail = next
	m.lastKey = next.loc.Key
	m.pageCount++

	if err := m.saveState(ctx); err != nil {
		return errors.WithMessage(err, "persisting page manager")
	}
	return nil
}

// Samples returns an iterator over every Sample of the chain, starting at
// the head. Persisted pages are loaded as they're reached and dropped once
// consumed; the tail is read from memory and may be unsaved.
func (m *PageManager) Samples(ctx context.Context) SampleIterator {
	return &chainIterator{ctx: ctx, m: m, page: m.head}
}

// Save persists the tail page and the manager state. Other pages were
// persisted as they were rolled over.
func (m *PageManager) Save(ctx context.Context) error {
	if err := m.tail.Save(ctx); err != nil {
		return err
	}
	return m.saveState(ctx)
}

// Load restores the manager state from its Location, and its head and tail
// pages from their keys. If a crash interrupted a rollover, the tail is
// advanced along successors which were persisted after it.
// An absent state leaves the manager as constructed.
func (m *PageManager) Load(ctx context.Context) error {
	value, err := m.loc.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if errors.Is(err, ErrFormat) {
		return err
	} else if err != nil {
		return storeErr("read", m.loc.Key, err)
	}

	var doc managerDoc
	if err = xml.Unmarshal([]byte(value), &doc); err != nil {
		return formatErr(err, "decoding page manager %s", m.loc)
	} else if err = doc.validate(); err != nil {
		return formatErr(err, "page manager %s", m.loc)
	}
	if m.startTime, err = parseTime(doc.StartTime); err != nil {
		return formatErr(err, "page manager %s start time", m.loc)
	}
	if m.firstKey, err = ParseKey(doc.First); err != nil {
		return formatErr(err, "page manager %s first key", m.loc)
	}
	if m.lastKey, err = ParseKey(doc.Last); err != nil {
		return formatErr(err, "page manager %s last key", m.loc)
	}
	m.pageSize = doc.PageSize
	m.interval = time.Duration(doc.Interval)
	m.pageCount = doc.PageCount

	lastStart := uint64(m.pageCount-1) * uint64(m.pageSize)
	m.head = NewPage(m.loc.At(m.firstKey), 0, m.pageSize, m.startTime, m.interval)

	if err = m.head.Load(ctx); err != nil {
		return errors.WithMessage(err, "loading head page")
	} else if m.firstKey == m.lastKey {
		m.tail = m.head
	} else {
		m.tail = NewPage(m.loc.At(m.lastKey), lastStart, m.pageSize,
			m.startTime.Add(time.Duration(lastStart)*m.interval), m.interval)

		if err = m.tail.Load(ctx); err != nil {
			return errors.WithMessage(err, "loading tail page")
		}
	}
	if m.tail.startIndex != lastStart {
		return formatErr(nil, "tail page %s starts at %d (expected %d)", m.tail.loc, m.tail.startIndex, lastStart)
	}
	return m.recover(ctx)
}

// recover advances the tail over full pages having persisted successors.
func (m *PageManager) recover(ctx context.Context) error {
	for m.tail.IsFull() {
		next := m.tail.successor()

		if found, err := next.load(ctx); err != nil {
			return errors.WithMessage(err, "loading successor of tail page")
		} else if !found {
			return nil
		}
		log.WithFields(log.Fields{
			"manager": m.loc,
			"tail":    m.tail.loc,
			"next":    next.loc,
		}).Warn("advancing page manager over persisted successor of tail")

		m.tail = next
		m.lastKey = next.loc.Key
		m.pageCount++
	}
	return nil
}

// Delete removes every page of the chain, and the manager state.
func (m *PageManager) Delete(ctx context.Context) error {
	key := m.firstKey
	for i := 0; i != m.pageCount; i++ {
		var next Key
		if key == m.lastKey {
			next = NilKey
		} else if key == m.head.loc.Key {
			next = m.head.nextKey
		} else {
			page := NewPage(m.loc.At(key), 0, m.pageSize, m.startTime, m.interval)
			if err := page.Load(ctx); err != nil {
				return errors.WithMessage(err, "loading page for deletion")
			}
			next = page.nextKey
		}
		if err := m.loc.Store.Delete(ctx, key); err != nil {
			return storeErr("delete", key, err)
		}
		if next == NilKey {
			break
		}
		key = next
	}
	if err := m.loc.Delete(ctx); err != nil {
		return storeErr("delete", m.loc.Key, err)
	}
	return nil
}

func (m *PageManager) saveState(ctx context.Context) error {
	b, err := xml.Marshal(managerDoc{
		PageSize:  m.pageSize,
		StartTime: formatTime(m.startTime),
		Interval:  int64(m.interval),
		PageCount: m.pageCount,
		First:     m.firstKey.String(),
		Last:      m.lastKey.String(),
	})
	if err != nil {
		return errors.Wrapf(err, "encoding page manager %s", m.loc)
	}
	if err = m.loc.Write(ctx, string(b)); err != nil {
		return storeErr("write", m.loc.Key, err)
	}
	return nil
}

type managerDoc struct {
	XMLName   xml.Name `xml:"samplepagemanager"`
	PageSize  int      `xml:"pagesize"`
	StartTime string   `xml:"starttime"`
	Interval  int64    `xml:"sampleinterval"`
	PageCount int      `xml:"pagecount"`
	First     string   `xml:"first"`
	Last      string   `xml:"last"`
}

func (d managerDoc) validate() error {
	if d.PageSize <= 0 {
		return errors.Errorf("page size %d", d.PageSize)
	} else if d.PageCount <= 0 {
		return errors.Errorf("page count %d", d.PageCount)
	} else if d.PageCount == 1 && d.First != d.Last {
		return errors.New("single page with distinct first and last keys")
	}
	return nil
}

type chainIterator struct {
	ctx       context.Context
	m         *PageManager
	page      *Page
	pos       int
	visited   int
	cur       Sample
	err       error
	truncated bool
	done      bool
}

func (it *chainIterator) Next() bool {
	for !it.done {
		if it.pos < len(it.page.samples) {
			it.cur = it.page.samples[it.pos]
			it.pos++
			return true
		}
		if it.page == it.m.tail {
			it.done = true
			break
		}
		if err := it.ctx.Err(); err != nil {
			it.err, it.done = err, true
			break
		}
		it.visited++

		var next *Page
		if it.page.nextKey == it.m.tail.loc.Key {
			next = it.m.tail
		} else if it.visited < it.m.pageCount {
			next = it.page.NextPage(it.ctx)
		}
		if next == nil || (next != it.m.tail && next.SampleCount() == 0) {
			log.WithFields(log.Fields{
				"manager": it.m.loc,
				"page":    it.page.loc,
				"index":   it.page.endIndex(),
			}).Warn("page chain is incomplete (truncating samples)")
			it.truncated, it.done = true, true
			break
		}
		it.page, it.pos = next, 0
	}
	return false
}

func (it *chainIterator) Sample() Sample  { return it.cur }
func (it *chainIterator) Err() error      { return it.err }
func (it *chainIterator) Truncated() bool { return it.truncated }
