package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/gridsync/internal/protocol"
	"github.com/marcus/gridsync/internal/syncclient"
)

func seedRecords(n int) []RecordJSON {
	recs := make([]RecordJSON, n)
	for i := range recs {
		recs[i] = RecordJSON{ID: fmt.Sprintf("r%03d", i), Values: map[string]any{"title": fmt.Sprintf("row %d", i)}}
	}
	return recs
}

func TestStreamInitialPush(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.InitialRows = 10 })
	h.CreateDataset("tasks", []string{"title:text"}, seedRecords(100)...)

	c := h.Stream("tasks")
	reset, ok := c.next().(protocol.Reset)
	require.True(t, ok)
	assert.Equal(t, 100, reset.Size)
	assert.Equal(t, []string{"title"}, reset.Fields)

	rows, ok := c.next().(protocol.SetRows)
	require.True(t, ok)
	assert.Equal(t, 0, rows.First)
	require.Len(t, rows.Rows, 10)
	assert.Equal(t, "row 9", rows.Rows[9].Cells["title"])
	assert.NotEmpty(t, rows.Rows[0].Key)

	require.Eventually(t, func() bool { return h.Server.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRequestRowsAndUpdates(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.InitialRows = 0 })
	h.CreateDataset("tasks", []string{"title:text"}, seedRecords(100)...)

	c := h.Stream("tasks")
	_ = c.next().(protocol.Reset)

	c.send(protocol.RequestRows{First: 0, Count: 10})
	first := c.next().(protocol.SetRows)
	assert.Len(t, first.Rows, 10)

	c.send(protocol.RequestRows{First: 5, Count: 10, CachedFirst: 0, CachedCount: 10})
	second := c.next().(protocol.SetRows)
	assert.Equal(t, 5, second.First)
	require.Len(t, second.Rows, 10)
	assert.Equal(t, "row 14", second.Rows[9].Cells["title"])

	h.DoJSON("PATCH", "/v1/datasets/tasks/records/r004", UpdateRecordRequest{Values: map[string]any{"title": "changed"}}, http.StatusOK, nil)
	update := c.next().(protocol.SetRows)
	assert.Equal(t, 4, update.First)
	require.Len(t, update.Rows, 1)
	assert.Equal(t, "changed", update.Rows[0].Cells["title"])

	// Outside the window: no frame. The next frame is the removal.
	h.DoJSON("PATCH", "/v1/datasets/tasks/records/r050", UpdateRecordRequest{Values: map[string]any{"title": "far"}}, http.StatusOK, nil)
	h.DoJSON("DELETE", "/v1/datasets/tasks/records/r002", nil, http.StatusNoContent, nil)
	removed := c.next().(protocol.RemoveRows)
	assert.Equal(t, protocol.RemoveRows{Index: 2, Count: 1}, removed)
}

func TestStreamInsertInsideWindow(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title:text"}, seedRecords(3)...)

	c := h.Stream("tasks")
	_ = c.next().(protocol.Reset)
	_ = c.next().(protocol.SetRows)

	idx := 0
	h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{
		Index:   &idx,
		Records: []RecordJSON{{ID: "new", Values: map[string]any{"title": "fresh"}}},
	}, http.StatusCreated, nil)

	assert.Equal(t, protocol.InsertRows{Index: 0, Count: 1}, c.next())
	rows := c.next().(protocol.SetRows)
	assert.Equal(t, 0, rows.First)
	assert.Equal(t, "fresh", rows.Rows[0].Cells["title"])
}

func TestStreamFieldChanges(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title:text"}, seedRecords(2)...)

	c := h.Stream("tasks")
	_ = c.next().(protocol.Reset)
	_ = c.next().(protocol.SetRows)

	h.DoJSON("POST", "/v1/datasets/tasks/fields", fieldDef("n:number"), http.StatusCreated, nil)
	assert.Equal(t, protocol.Fields{Fields: []string{"title", "n"}}, c.next())
	for i := range 2 {
		rows := c.next().(protocol.SetRows)
		assert.Equal(t, i, rows.First)
		assert.Contains(t, rows.Rows[0].Cells, "n")
	}
}

func TestStreamBadRequests(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.InitialRows = 0 })
	h.CreateDataset("tasks", []string{"title"}, seedRecords(5)...)

	c := h.Stream("tasks")
	_ = c.next().(protocol.Reset)

	c.send(protocol.RequestRows{First: -1, Count: 2})
	e, ok := c.next().(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBadRequest, e.Code)

	c.send(protocol.SetRows{})
	e = c.next().(protocol.Error)
	assert.Equal(t, protocol.CodeBadRequest, e.Code)

	// The session survives request errors.
	c.send(protocol.RequestRows{First: 0, Count: 2})
	rows := c.next().(protocol.SetRows)
	assert.Len(t, rows.Rows, 2)
}

func TestStreamRefresh(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.InitialRows = 2 })
	h.CreateDataset("tasks", []string{"title"}, seedRecords(5)...)

	c := h.Stream("tasks")
	_ = c.next().(protocol.Reset)
	_ = c.next().(protocol.SetRows)

	c.send(protocol.Refresh{})
	a := c.next().(protocol.SetRows)
	b := c.next().(protocol.SetRows)
	assert.Equal(t, []int{0, 1}, []int{a.First, b.First})
}

func TestStreamUnknownDataset(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.Do("GET", "/v1/datasets/nope/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdownEndsSessions(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title"}, seedRecords(1)...)

	c := h.Stream("tasks")
	_ = c.next()
	_ = c.next()
	require.Eventually(t, func() bool { return h.Server.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for _, s := range h.sessions() {
		s.stop()
	}
	require.Eventually(t, func() bool { return h.Server.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamConsistentUnderConcurrentWrites(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.InitialRows = 0 })
	h.CreateDataset("tasks", []string{"title:text"}, seedRecords(50)...)

	c := h.Stream("tasks")
	cache := syncclient.NewRowCache()
	require.NoError(t, cache.Apply(c.next()))
	req, _ := cache.Plan(0, 10, 0)
	require.NotNil(t, req)

	// Requests are handled while the inserts land.
	for i := range 30 {
		c.send(*req)
		idx := i % 12
		h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{
			Index:   &idx,
			Records: []RecordJSON{{ID: fmt.Sprintf("new%02d", i), Values: map[string]any{"title": fmt.Sprintf("new %d", i)}}},
		}, http.StatusCreated, nil)
	}

	// An invalid request marks the end of the stream.
	c.send(protocol.RequestRows{First: -1, Count: 1})
	for {
		err := cache.Apply(c.next())
		if err == nil {
			continue
		}
		var perr protocol.Error
		require.ErrorAs(t, err, &perr)
		require.Equal(t, protocol.CodeBadRequest, perr.Code)
		break
	}

	st, err := h.Server.pool.Get("tasks")
	require.NoError(t, err)
	assert.Equal(t, st.Size(), cache.Size())
	win := cache.Window()
	require.Equal(t, 10, win.Length())
	for i := win.Start(); i < win.End(); i++ {
		row, ok := cache.Row(i)
		require.True(t, ok, "row %d missing", i)
		id, err := st.IDAt(i)
		require.NoError(t, err)
		want, err := st.FieldValue(id, "title")
		require.NoError(t, err)
		assert.Equal(t, want, row.Cells["title"], "row %d", i)
	}
}

func TestStreamRefusedWhileShuttingDown(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title"}, seedRecords(1)...)

	h.Server.mu.Lock()
	h.Server.closing = true
	h.Server.mu.Unlock()

	resp, body := h.Do("GET", "/v1/datasets/tasks/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), ErrCodeUnavailable)
	assert.Equal(t, 0, h.Server.SessionCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Server.Shutdown(ctx))
}

func TestSendDropsSlowClient(t *testing.T) {
	s := &session{
		outbox: make(chan protocol.Message, 1),
		done:   make(chan struct{}),
		log:    slog.New(slog.DiscardHandler),
	}
	require.NoError(t, s.send(protocol.InsertRows{Index: 0, Count: 1}))
	assert.ErrorIs(t, s.send(protocol.InsertRows{Index: 1, Count: 1}), errSlowClient)

	select {
	case <-s.done:
	default:
		t.Fatal("session still running")
	}
}
