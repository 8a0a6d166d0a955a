// Package window tracks which slice of an ordered dataset a remote client is
// currently viewing and keeps per-record change listeners installed for
// exactly that slice.
package window

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is matched by every *InvalidRangeError.
var ErrInvalidRange = errors.New("invalid range")

// InvalidRangeError reports a range constructed with a negative start or length.
type InvalidRangeError struct {
	Start  int
	Length int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: start=%d length=%d", e.Start, e.Length)
}

// Is lets errors.Is(err, ErrInvalidRange) match.
func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// Range is an immutable half-open interval [start, end) of row indices.
// The zero value is the empty range at 0. Ranges are comparable with ==.
type Range struct {
	start  int
	length int
}

// WithLength returns the range [start, start+length).
func WithLength(start, length int) (Range, error) {
	if start < 0 || length < 0 {
		return Range{}, &InvalidRangeError{Start: start, Length: length}
	}
	return Range{start: start, length: length}, nil
}

// Between returns the range [start, end).
func Between(start, end int) (Range, error) {
	return WithLength(start, end-start)
}

// span builds a range from possibly inverted bounds, clamping to non-negative
// start and length. Internal arithmetic uses it where the result is total.
func span(start, end int) Range {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	return Range{start: start, length: end - start}
}

func (r Range) Start() int    { return r.start }
func (r Range) End() int      { return r.start + r.length }
func (r Range) Length() int   { return r.length }
func (r Range) IsEmpty() bool { return r.length == 0 }

// Contains reports whether index i lies inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.start && i < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.start, r.End())
}

// OffsetBy shifts the range by delta. A start that would become negative is
// clamped to 0 and the length is reduced by the clamped amount, so the end
// position is preserved whenever it is still non-negative.
func (r Range) OffsetBy(delta int) Range {
	return span(r.start+delta, r.End()+delta)
}

// PartitionWith returns the parts of r that do not overlap other: the part
// before other.Start() and the part at or after other.End(). Either part may
// be empty.
func (r Range) PartitionWith(other Range) (before, after Range) {
	before = span(r.start, min(r.End(), other.start))
	after = span(max(r.start, other.End()), r.End())
	return before, after
}

// CombineWith returns the smallest range covering both r and other.
func (r Range) CombineWith(other Range) Range {
	return span(min(r.start, other.start), max(r.End(), other.End()))
}

// Intersect returns the overlap of r and other, or an empty range when they
// are disjoint.
func (r Range) Intersect(other Range) Range {
	start := max(r.start, other.start)
	end := min(r.End(), other.End())
	if end <= start {
		return Range{start: r.start}
	}
	return Range{start: start, length: end - start}
}
