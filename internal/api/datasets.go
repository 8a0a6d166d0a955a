package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/store"
)

// DatasetInfo describes one dataset.
type DatasetInfo struct {
	Name   string           `json:"name"`
	Size   int              `json:"size"`
	Fields []store.FieldDef `json:"fields"`
}

// RecordJSON is the REST form of a record.
type RecordJSON struct {
	ID     string         `json:"id"`
	Index  int            `json:"index"`
	Values map[string]any `json:"values"`
}

// CreateDatasetRequest is the body of POST /v1/datasets.
type CreateDatasetRequest struct {
	Name   string           `json:"name"`
	Fields []store.FieldDef `json:"fields"`
}

// InsertRecordsRequest is the body of POST /v1/datasets/{name}/records.
// A nil Index appends.
type InsertRecordsRequest struct {
	Index   *int         `json:"index,omitempty"`
	Records []RecordJSON `json:"records"`
}

// InsertRecordsResponse reports the identities of the inserted records.
type InsertRecordsResponse struct {
	IDs  []string `json:"ids"`
	Size int      `json:"size"`
}

// UpdateRecordRequest is the body of PATCH /v1/datasets/{name}/records/{id}.
type UpdateRecordRequest struct {
	Values map[string]any `json:"values"`
}

type datasetHandler func(w http.ResponseWriter, r *http.Request, st *store.Store)

// withDataset resolves the {name} path value to its store and tags the
// request logger with it.
func (s *Server) withDataset(handler datasetHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		st, err := s.pool.Get(name)
		if err != nil {
			s.writePoolError(w, r, err)
			return
		}
		ctx := withLogger(r.Context(), logFor(r.Context()).With("dataset", name))
		handler(w, r.WithContext(ctx), st)
	}
}

func (s *Server) writePoolError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errInvalidName):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidName, err.Error())
	case errors.Is(err, errNoDataset):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, errDatasetExists):
		writeError(w, http.StatusConflict, ErrCodeAlreadyExists, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func info(name string, st *store.Store) DatasetInfo {
	return DatasetInfo{Name: name, Size: st.Size(), Fields: st.FieldDefs()}
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := s.pool.List()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	out := make([]DatasetInfo, 0, len(names))
	for _, name := range names {
		st, err := s.pool.Get(name)
		if err != nil {
			logFor(r.Context()).Warn("open dataset", "dataset", name, "err", err)
			continue
		}
		out = append(out, info(name, st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := s.pool.Create(r.Context(), req.Name, req.Fields)
	if err != nil {
		s.writePoolError(w, r, err)
		return
	}
	logFor(r.Context()).Info("dataset created", "dataset", req.Name, "fields", len(req.Fields))
	writeJSON(w, http.StatusCreated, info(req.Name, st))
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request, st *store.Store) {
	writeJSON(w, http.StatusOK, info(r.PathValue("name"), st))
}

func (s *Server) handleInsertRecords(w http.ResponseWriter, r *http.Request, st *store.Store) {
	var req InsertRecordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "no records")
		return
	}

	recs := make([]dataset.Record, len(req.Records))
	ids := make([]string, len(req.Records))
	for i, rj := range req.Records {
		if rj.ID == "" {
			rj.ID = ulid.Make().String()
		}
		ids[i] = rj.ID
		recs[i] = dataset.Record{ID: dataset.ID(rj.ID), Values: toValues(rj.Values)}
	}

	var err error
	if req.Index == nil {
		err = st.Append(r.Context(), recs...)
	} else {
		err = st.Insert(r.Context(), *req.Index, recs...)
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("insert")
	writeJSON(w, http.StatusCreated, InsertRecordsResponse{IDs: ids, Size: st.Size()})
}

func (s *Server) handleRemoveRecords(w http.ResponseWriter, r *http.Request, st *store.Store) {
	index, err1 := strconv.Atoi(r.URL.Query().Get("index"))
	count, err2 := strconv.Atoi(r.URL.Query().Get("count"))
	if err1 != nil || err2 != nil || count <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "index and positive count are required")
		return
	}
	if err := st.Remove(r.Context(), index, count); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("remove")
	writeJSON(w, http.StatusOK, map[string]int{"removed": count, "size": st.Size()})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, st *store.Store) {
	writeRecord(w, r, st, dataset.ID(r.PathValue("id")))
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request, st *store.Store) {
	var req UpdateRecordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := dataset.ID(r.PathValue("id"))
	if err := st.Update(r.Context(), id, toValues(req.Values)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("update")
	writeRecord(w, r, st, id)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request, st *store.Store) {
	if err := st.RemoveID(r.Context(), dataset.ID(r.PathValue("id"))); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("remove")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddFields(w http.ResponseWriter, r *http.Request, st *store.Store) {
	var def store.FieldDef
	if !decodeBody(w, r, &def) {
		return
	}
	if err := st.AddFields(r.Context(), def); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("add_field")
	writeJSON(w, http.StatusCreated, info(r.PathValue("name"), st))
}

func (s *Server) handleRemoveField(w http.ResponseWriter, r *http.Request, st *store.Store) {
	field := dataset.FieldID(r.PathValue("field"))
	if !slices.Contains(st.FieldIDs(), field) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "field not found: "+string(field))
		return
	}
	if err := st.RemoveFields(r.Context(), field); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordMutation("remove_field")
	writeJSON(w, http.StatusOK, info(r.PathValue("name"), st))
}

func writeRecord(w http.ResponseWriter, r *http.Request, st *store.Store, id dataset.ID) {
	rec, err := st.Get(id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	values := make(map[string]any, len(rec.Values))
	for f, v := range rec.Values {
		values[string(f)] = v
	}
	writeJSON(w, http.StatusOK, RecordJSON{ID: string(rec.ID), Index: st.IndexOf(id), Values: values})
}

func toValues(m map[string]any) map[dataset.FieldID]any {
	out := make(map[dataset.FieldID]any, len(m))
	for k, v := range m {
		out[dataset.FieldID(k)] = v
	}
	return out
}
