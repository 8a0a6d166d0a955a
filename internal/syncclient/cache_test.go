package syncclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/gridsync/internal/protocol"
)

func rows(first, n int) []protocol.Row {
	out := make([]protocol.Row, n)
	for i := range out {
		out[i] = protocol.Row{Key: fmt.Sprint(first + i), Cells: map[string]any{"title": fmt.Sprintf("row %d", first+i), "n": first + i}}
	}
	return out
}

// primed returns a cache holding a dataset of size with [first, first+n) pushed.
func primed(t *testing.T, size, first, n int) *RowCache {
	t.Helper()
	c := NewRowCache()
	require.NoError(t, c.Apply(protocol.Reset{Size: size, Fields: []string{"title", "n"}}))
	require.NoError(t, c.Apply(protocol.SetRows{First: first, Rows: rows(first, n)}))
	return c
}

func title(t *testing.T, c *RowCache, i int) string {
	t.Helper()
	r, ok := c.Row(i)
	require.True(t, ok, "row %d not cached", i)
	return r.Cells["title"].(string)
}

func TestResetClears(t *testing.T) {
	c := primed(t, 100, 0, 10)
	require.NoError(t, c.Apply(protocol.Reset{Size: 3, Fields: []string{"a"}}))
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, []string{"a"}, c.Fields())
	assert.Zero(t, c.Len())
	assert.True(t, c.Window().IsEmpty())
}

func TestInitialPushSetsWindow(t *testing.T) {
	c := primed(t, 100, 0, 10)
	assert.Equal(t, "[0,10)", c.Window().String())
	assert.Equal(t, "row 9", title(t, c, 9))
}

func TestPlanExtendsContiguousCache(t *testing.T) {
	c := primed(t, 100, 0, 10)

	req, dropped := c.Plan(5, 10, 0)
	require.NotNil(t, req)
	assert.Equal(t, protocol.RequestRows{First: 10, Count: 5, CachedFirst: 5, CachedCount: 5}, *req)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, dropped)
	assert.Equal(t, "[5,15)", c.Window().String())
	_, ok := c.Row(4)
	assert.False(t, ok)
}

func TestPlanScrollUp(t *testing.T) {
	c := primed(t, 100, 20, 10)
	req, _ := c.Plan(15, 10, 0)
	require.NotNil(t, req)
	assert.Equal(t, protocol.RequestRows{First: 15, Count: 5, CachedFirst: 20, CachedCount: 5}, *req)
}

func TestPlanDisjointJump(t *testing.T) {
	c := primed(t, 100, 0, 10)
	req, dropped := c.Plan(50, 10, 2)
	require.NotNil(t, req)
	assert.Equal(t, protocol.RequestRows{First: 48, Count: 14}, *req)
	assert.Len(t, dropped, 10)
	assert.Zero(t, c.Len())
}

func TestPlanGrowsBothSides(t *testing.T) {
	c := primed(t, 100, 10, 5)
	req, dropped := c.Plan(8, 10, 0)
	require.NotNil(t, req)
	assert.Equal(t, protocol.RequestRows{First: 8, Count: 10, CachedFirst: 10, CachedCount: 5}, *req)
	assert.Empty(t, dropped)
}

func TestPlanNothingMissing(t *testing.T) {
	c := primed(t, 100, 0, 40)
	req, dropped := c.Plan(10, 10, 5)
	assert.Nil(t, req)
	assert.Nil(t, dropped)

	// Clipped at the dataset end
	c = primed(t, 12, 0, 12)
	req, _ = c.Plan(5, 10, 5)
	assert.Nil(t, req)

	c = NewRowCache()
	req, _ = c.Plan(0, 10, 5)
	assert.Nil(t, req, "empty dataset needs no rows")
}

func TestSetRowsOutsideWindowIgnored(t *testing.T) {
	c := primed(t, 100, 0, 10)
	require.NoError(t, c.Apply(protocol.SetRows{First: 50, Rows: rows(50, 1)}))
	_, ok := c.Row(50)
	assert.False(t, ok)
	assert.Equal(t, "[0,10)", c.Window().String())
}

func TestInsertBeforeWindowShifts(t *testing.T) {
	c := primed(t, 100, 10, 5)
	require.NoError(t, c.Apply(protocol.InsertRows{Index: 2, Count: 3}))
	assert.Equal(t, 103, c.Size())
	assert.Equal(t, "[13,18)", c.Window().String())
	assert.Equal(t, "row 10", title(t, c, 13))
}

func TestInsertInsideWindowKeepsSpan(t *testing.T) {
	c := primed(t, 100, 0, 5)
	require.NoError(t, c.Apply(protocol.InsertRows{Index: 2, Count: 2}))
	assert.Equal(t, "[0,5)", c.Window().String())
	assert.Equal(t, "row 2", title(t, c, 4))
	for _, i := range []int{2, 3, 5, 6} {
		_, ok := c.Row(i)
		assert.False(t, ok, "row %d", i)
	}

	// The server pushes the inserted rows next.
	require.NoError(t, c.Apply(protocol.SetRows{First: 2, Rows: []protocol.Row{{Key: "x", Cells: map[string]any{"title": "new"}}}}))
	assert.Equal(t, "new", title(t, c, 2))
}

func TestInsertAfterWindowNoop(t *testing.T) {
	c := primed(t, 100, 0, 5)
	require.NoError(t, c.Apply(protocol.InsertRows{Index: 5, Count: 1}))
	assert.Equal(t, "[0,5)", c.Window().String())
	assert.Equal(t, 5, c.Len())
}

func TestRemoveInsideWindowShrinks(t *testing.T) {
	c := primed(t, 100, 0, 10)
	require.NoError(t, c.Apply(protocol.RemoveRows{Index: 2, Count: 1}))
	assert.Equal(t, 99, c.Size())
	assert.Equal(t, "[0,9)", c.Window().String())
	assert.Equal(t, "row 3", title(t, c, 2))
	assert.Equal(t, 9, c.Len())
}

func TestRemoveStraddlingWindowStart(t *testing.T) {
	c := primed(t, 100, 5, 5)
	require.NoError(t, c.Apply(protocol.RemoveRows{Index: 3, Count: 4}))
	assert.Equal(t, "[3,6)", c.Window().String())
	assert.Equal(t, "row 7", title(t, c, 3))
	assert.Equal(t, "row 9", title(t, c, 5))
}

func TestRemoveBeforeWindowShifts(t *testing.T) {
	c := primed(t, 100, 10, 5)
	require.NoError(t, c.Apply(protocol.RemoveRows{Index: 0, Count: 2}))
	assert.Equal(t, "[8,13)", c.Window().String())
	assert.Equal(t, "row 10", title(t, c, 8))
}

func TestFieldsDropsRemovedCells(t *testing.T) {
	c := primed(t, 10, 0, 2)
	require.NoError(t, c.Apply(protocol.Fields{Fields: []string{"title"}}))
	r, _ := c.Row(0)
	assert.NotContains(t, r.Cells, "n")
	assert.Equal(t, []string{"title"}, c.Fields())
}

func TestApplyErrorFrame(t *testing.T) {
	c := NewRowCache()
	err := c.Apply(protocol.Error{Code: protocol.CodeUnsupportedEvent, Message: "sorted"})
	var frame protocol.Error
	require.ErrorAs(t, err, &frame)
	assert.Equal(t, protocol.CodeUnsupportedEvent, frame.Code)

	assert.Error(t, c.Apply(protocol.Refresh{}))
}
