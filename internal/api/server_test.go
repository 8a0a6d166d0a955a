package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/store"
)

// fieldDef parses "name" or "name:kind".
func fieldDef(s string) store.FieldDef {
	name, kind, _ := strings.Cut(s, ":")
	return store.FieldDef{Name: dataset.FieldID(name), Kind: store.Kind(kind)}
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t)
	var body map[string]any
	h.DoJSON("GET", "/healthz", nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title:text"}, RecordJSON{ID: "a", Values: map[string]any{"title": "A"}})

	resp, body := h.Do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, "gridsync_http_requests_total")
	assert.Contains(t, text, `gridsync_mutations_total{kind="insert"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestCreateAndListDatasets(t *testing.T) {
	h := newTestHarness(t)

	var created DatasetInfo
	h.DoJSON("POST", "/v1/datasets", CreateDatasetRequest{
		Name:   "tasks",
		Fields: []store.FieldDef{{Name: "title", Kind: store.KindText}, {Name: "size", Kind: store.KindNumber, Transform: "bytes"}},
	}, http.StatusCreated, &created)
	assert.Equal(t, "tasks", created.Name)
	assert.Len(t, created.Fields, 2)

	h.CreateDataset("notes", []string{"body"})

	var list struct {
		Datasets []DatasetInfo `json:"datasets"`
	}
	h.DoJSON("GET", "/v1/datasets", nil, http.StatusOK, &list)
	require.Len(t, list.Datasets, 2)
	assert.Equal(t, "notes", list.Datasets[0].Name)
	assert.Equal(t, "tasks", list.Datasets[1].Name)
}

func TestCreateDatasetErrors(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title"})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"duplicate", CreateDatasetRequest{Name: "tasks"}, http.StatusConflict, ErrCodeAlreadyExists},
		{"bad name", CreateDatasetRequest{Name: "../etc"}, http.StatusBadRequest, ErrCodeInvalidName},
		{"bad kind", CreateDatasetRequest{Name: "x", Fields: []store.FieldDef{{Name: "a", Kind: "blob"}}}, http.StatusBadRequest, ErrCodeInvalidField},
		{"bad transform", CreateDatasetRequest{Name: "y", Fields: []store.FieldDef{{Name: "a", Transform: "shout"}}}, http.StatusBadRequest, ErrCodeInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			h.DoJSON("POST", "/v1/datasets", tt.body, tt.status, &resp)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	// Failed creation leaves nothing behind
	h.DoJSON("GET", "/v1/datasets/x", nil, http.StatusNotFound, nil)
}

func TestRecordLifecycle(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title:text", "n:number"},
		RecordJSON{ID: "a", Values: map[string]any{"title": "A", "n": 1}},
		RecordJSON{ID: "c", Values: map[string]any{"title": "C", "n": 3}},
	)

	idx := 1
	var ins InsertRecordsResponse
	h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{
		Index:   &idx,
		Records: []RecordJSON{{ID: "b", Values: map[string]any{"title": "B"}}, {Values: map[string]any{"title": "generated"}}},
	}, http.StatusCreated, &ins)
	assert.Equal(t, 4, ins.Size)
	require.Len(t, ins.IDs, 2)
	assert.Len(t, ins.IDs[1], 26, "empty ids are filled with a ULID")

	var rec RecordJSON
	h.DoJSON("GET", "/v1/datasets/tasks/records/c", nil, http.StatusOK, &rec)
	assert.Equal(t, 3, rec.Index)
	assert.Equal(t, "C", rec.Values["title"])

	h.DoJSON("PATCH", "/v1/datasets/tasks/records/b", UpdateRecordRequest{Values: map[string]any{"n": 2}}, http.StatusOK, &rec)
	assert.Equal(t, float64(2), rec.Values["n"])

	var resp ErrorResponse
	h.DoJSON("PATCH", "/v1/datasets/tasks/records/b", UpdateRecordRequest{Values: map[string]any{"n": "two"}}, http.StatusBadRequest, &resp)
	assert.Equal(t, ErrCodeInvalidField, resp.Error.Code)

	h.DoJSON("DELETE", "/v1/datasets/tasks/records?index=0&count=2", nil, http.StatusOK, nil)
	h.DoJSON("DELETE", "/v1/datasets/tasks/records/c", nil, http.StatusNoContent, nil)
	h.DoJSON("GET", "/v1/datasets/tasks/records/c", nil, http.StatusNotFound, nil)

	var ds DatasetInfo
	h.DoJSON("GET", "/v1/datasets/tasks", nil, http.StatusOK, &ds)
	assert.Equal(t, 1, ds.Size)
}

func TestRecordErrors(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title"}, RecordJSON{ID: "a"})

	idx := 9
	h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{Index: &idx, Records: []RecordJSON{{ID: "z"}}}, http.StatusBadRequest, nil)
	h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{Records: []RecordJSON{{ID: "a"}}}, http.StatusConflict, nil)
	h.DoJSON("POST", "/v1/datasets/tasks/records", InsertRecordsRequest{}, http.StatusBadRequest, nil)
	h.DoJSON("DELETE", "/v1/datasets/tasks/records?index=0", nil, http.StatusBadRequest, nil)
	h.DoJSON("DELETE", "/v1/datasets/tasks/records?index=0&count=5", nil, http.StatusBadRequest, nil)
	h.DoJSON("GET", "/v1/datasets/missing/records/a", nil, http.StatusNotFound, nil)

	resp, _ := h.Do("POST", "/v1/datasets/tasks/records", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFieldRoutes(t *testing.T) {
	h := newTestHarness(t)
	h.CreateDataset("tasks", []string{"title"})

	var ds DatasetInfo
	h.DoJSON("POST", "/v1/datasets/tasks/fields", store.FieldDef{Name: "due", Kind: store.KindTime}, http.StatusCreated, &ds)
	require.Len(t, ds.Fields, 2)
	assert.Equal(t, store.KindTime, ds.Fields[1].Kind)

	h.DoJSON("DELETE", "/v1/datasets/tasks/fields/title", nil, http.StatusOK, &ds)
	assert.Equal(t, []store.FieldDef{{Name: "due", Kind: store.KindTime}}, ds.Fields)
	h.DoJSON("DELETE", "/v1/datasets/tasks/fields/title", nil, http.StatusNotFound, nil)
}

func TestTokenRequired(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.APIToken = "s3cret" })
	h.CreateDataset("tasks", []string{"title"})

	h.Token = ""
	var resp ErrorResponse
	h.DoJSON("GET", "/v1/datasets", nil, http.StatusUnauthorized, &resp)
	assert.Equal(t, ErrCodeUnauthorized, resp.Error.Code)

	h.Token = "wrong"
	h.DoJSON("GET", "/v1/datasets", nil, http.StatusUnauthorized, nil)

	// Health stays open
	h.DoJSON("GET", "/healthz", nil, http.StatusOK, nil)
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.Do("GET", "/healthz", nil)
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}
