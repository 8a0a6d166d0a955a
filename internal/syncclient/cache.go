package syncclient

import (
	"fmt"
	"slices"

	"github.com/marcus/gridsync/internal/protocol"
	"github.com/marcus/gridsync/internal/window"
)

// RowCache is the client-side mirror of a stream session: the dataset size,
// the visible fields, and the rows of the active window keyed by index. It
// tracks the window the server considers active the same way the server
// does, so insert and remove notifications shift it identically. RowCache
// is not safe for concurrent use.
type RowCache struct {
	size   int
	fields []string
	rows   map[int]protocol.Row
	window window.Range
}

// NewRowCache returns an empty cache.
func NewRowCache() *RowCache {
	return &RowCache{rows: make(map[int]protocol.Row)}
}

func (c *RowCache) Size() int            { return c.size }
func (c *RowCache) Fields() []string     { return slices.Clone(c.fields) }
func (c *RowCache) Window() window.Range { return c.window }
func (c *RowCache) Len() int             { return len(c.rows) }

// Row returns the cached row at index i.
func (c *RowCache) Row(i int) (protocol.Row, bool) {
	r, ok := c.rows[i]
	return r, ok
}

// Apply folds one server frame into the cache. An Error frame is returned
// as the error.
func (c *RowCache) Apply(m protocol.Message) error {
	switch f := m.(type) {
	case protocol.Reset:
		c.size = f.Size
		c.fields = slices.Clone(f.Fields)
		clear(c.rows)
		c.window = window.Range{}
	case protocol.SetRows:
		c.setRows(f.First, f.Rows)
	case protocol.InsertRows:
		c.insert(f.Index, f.Count)
	case protocol.RemoveRows:
		c.remove(f.Index, f.Count)
	case protocol.Fields:
		c.setFields(f.Fields)
	case protocol.Error:
		return f
	default:
		return fmt.Errorf("unexpected %s frame", m.Type())
	}
	return nil
}

// Plan computes the request that brings the window to
// [top-margin, top+height+margin), clipped to the dataset. Rows outside the
// new window are evicted and their keys returned for a DropRows frame. A nil
// request means every wanted row is already active.
func (c *RowCache) Plan(top, height, margin int) (*protocol.RequestRows, []string) {
	wanted := between(top-margin, min(c.size, top+height+margin))
	if wanted.IsEmpty() || c.window.Intersect(wanted) == wanted {
		return nil, nil
	}

	kept := c.window.Intersect(wanted)
	var dropped []string
	for i, row := range c.rows {
		if !kept.Contains(i) {
			dropped = append(dropped, row.Key)
			delete(c.rows, i)
		}
	}
	slices.Sort(dropped)

	req := &protocol.RequestRows{First: wanted.Start(), Count: wanted.Length()}
	if !kept.IsEmpty() {
		req.CachedFirst, req.CachedCount = kept.Start(), kept.Length()
		switch {
		case kept.Start() == wanted.Start():
			req.First, req.Count = kept.End(), wanted.End()-kept.End()
		case kept.End() == wanted.End():
			req.Count = kept.Start() - wanted.Start()
		}
	}
	c.window = wanted
	return req, dropped
}

func (c *RowCache) setRows(first int, rows []protocol.Row) {
	pushed := between(first, first+len(rows))
	if c.window.IsEmpty() {
		c.window = pushed
	}
	for i, row := range rows {
		// Late pushes for rows the client already scrolled away from.
		if c.window.Contains(first + i) {
			c.rows[first+i] = row
		}
	}
}

func (c *RowCache) insert(index, count int) {
	if count <= 0 {
		return
	}
	c.size += count
	c.rows = shifted(c.rows, index, count)
	switch {
	case index < c.window.Start():
		c.window = c.window.OffsetBy(count)
	case index < c.window.End():
		// The window keeps its span; rows pushed past its end leave it.
		end := c.window.End()
		for i := end; i < end+count; i++ {
			delete(c.rows, i)
		}
	}
}

func (c *RowCache) remove(index, count int) {
	if count <= 0 {
		return
	}
	c.size -= count
	removed := between(index, index+count)
	active := c.window.Intersect(removed).Length()
	preceding := max(0, min(index+count, c.window.Start())-index)

	for i := removed.Start(); i < removed.End(); i++ {
		delete(c.rows, i)
	}
	c.rows = shifted(c.rows, index+count, -count)
	c.window = between(c.window.Start()-preceding, c.window.End()-preceding-active)
}

func (c *RowCache) setFields(fields []string) {
	for _, row := range c.rows {
		for name := range row.Cells {
			if !slices.Contains(fields, name) {
				delete(row.Cells, name)
			}
		}
	}
	c.fields = slices.Clone(fields)
}

// shifted moves every row at or after from by delta.
func shifted(rows map[int]protocol.Row, from, delta int) map[int]protocol.Row {
	out := make(map[int]protocol.Row, len(rows))
	for i, row := range rows {
		if i >= from {
			i += delta
		}
		out[i] = row
	}
	return out
}

// between builds [start, end) clamped to non-negative bounds.
func between(start, end int) window.Range {
	start = max(start, 0)
	r, err := window.Between(start, max(start, end))
	if err != nil {
		return window.Range{}
	}
	return r
}
