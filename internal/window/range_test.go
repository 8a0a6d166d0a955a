package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rng(t *testing.T, start, end int) Range {
	t.Helper()
	r, err := Between(start, end)
	require.NoError(t, err)
	return r
}

func TestConstructorsRejectNegative(t *testing.T) {
	_, err := WithLength(-1, 3)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = WithLength(2, -1)
	var ire *InvalidRangeError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, 2, ire.Start)
	assert.Equal(t, -1, ire.Length)

	_, err = Between(5, 4)
	require.ErrorIs(t, err, ErrInvalidRange)

	r, err := Between(3, 3)
	require.NoError(t, err)
	assert.True(t, r.IsEmpty())
}

func TestOffsetByClampsAtZero(t *testing.T) {
	tests := []struct {
		name  string
		in    Range
		delta int
		want  Range
	}{
		{"forward", rng(t, 10, 15), 3, rng(t, 13, 18)},
		{"backward", rng(t, 10, 15), -4, rng(t, 6, 11)},
		{"clamped start keeps end", rng(t, 2, 6), -3, rng(t, 0, 3)},
		{"fully below zero", rng(t, 1, 3), -5, rng(t, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.OffsetBy(tt.delta))
		})
	}
}

func TestPartitionWith(t *testing.T) {
	tests := []struct {
		name          string
		self, other   Range
		before, after Range
	}{
		{"shift right", rng(t, 1, 6), rng(t, 3, 8), rng(t, 1, 3), rng(t, 6, 6)},
		{"shift left", rng(t, 3, 8), rng(t, 1, 6), rng(t, 3, 3), rng(t, 6, 8)},
		{"other inside", rng(t, 0, 10), rng(t, 3, 5), rng(t, 0, 3), rng(t, 5, 10)},
		{"self inside", rng(t, 3, 5), rng(t, 0, 10), rng(t, 3, 3), rng(t, 5, 5)},
		{"disjoint after", rng(t, 0, 4), rng(t, 6, 9), rng(t, 0, 4), rng(t, 4, 4)},
		{"disjoint before", rng(t, 6, 9), rng(t, 0, 4), rng(t, 6, 6), rng(t, 6, 9)},
		{"equal", rng(t, 2, 7), rng(t, 2, 7), rng(t, 2, 2), rng(t, 7, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, after := tt.self.PartitionWith(tt.other)
			assert.Equal(t, tt.before.Start(), before.Start(), "before start")
			assert.Equal(t, tt.before.Length(), before.Length(), "before length")
			assert.Equal(t, tt.after.Length(), after.Length(), "after length")
			if !tt.after.IsEmpty() {
				assert.Equal(t, tt.after.Start(), after.Start(), "after start")
			}
		})
	}
}

// Partition pieces plus the intersection reconstruct the original range
// exactly, without overlap.
func TestPartitionReconstructs(t *testing.T) {
	for as := 0; as < 8; as++ {
		for ae := as; ae < 8; ae++ {
			for bs := 0; bs < 8; bs++ {
				for be := bs; be < 8; be++ {
					a, b := rng(t, as, ae), rng(t, bs, be)
					before, after := a.PartitionWith(b)
					mid := a.Intersect(b)

					covered := make(map[int]int)
					for _, p := range []Range{before, mid, after} {
						for i := p.Start(); i < p.End(); i++ {
							covered[i]++
						}
					}
					for i := a.Start(); i < a.End(); i++ {
						require.Equalf(t, 1, covered[i], "a=%v b=%v index %d", a, b, i)
						delete(covered, i)
					}
					require.Emptyf(t, covered, "a=%v b=%v leaked outside a", a, b)
				}
			}
		}
	}
}

func TestCombineWithIsMinimalCover(t *testing.T) {
	for as := 0; as < 6; as++ {
		for ae := as; ae < 6; ae++ {
			for bs := 0; bs < 6; bs++ {
				for be := bs; be < 6; be++ {
					a, b := rng(t, as, ae), rng(t, bs, be)
					c := a.CombineWith(b)
					require.Equal(t, min(as, bs), c.Start())
					require.Equal(t, max(ae, be), c.End())
				}
			}
		}
	}
	// Disjoint ranges are bridged, not just overlapping ones.
	assert.Equal(t, rng(t, 0, 15), rng(t, 5, 15).CombineWith(rng(t, 0, 2)))
}

func TestContainsAndString(t *testing.T) {
	r := rng(t, 3, 6)
	assert.False(t, r.Contains(2))
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(6))
	assert.Equal(t, "[3,6)", r.String())
}
