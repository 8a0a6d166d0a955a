package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/marcus/gridsync/internal/protocol"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	BaseURL string
	Token   string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	cfg := Config{
		ListenAddr:     ":0",
		DataDir:        t.TempDir(),
		InitialRows:    40,
		RowCacheSize:   64,
		SessionQueue:   256,
		RateLimitWrite: 100000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.http.Handler)

	h := &TestHarness{
		t:       t,
		Server:  srv,
		BaseURL: httpSrv.URL,
		Token:   cfg.APIToken,
		client:  &http.Client{Timeout: 10 * time.Second},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		for _, sess := range h.sessions() {
			sess.stop()
		}
		httpSrv.Close()
		srv.pool.CloseAll()
	})

	return h
}

func (h *TestHarness) sessions() []*session {
	h.Server.mu.Lock()
	defer h.Server.mu.Unlock()
	out := make([]*session, 0, len(h.Server.sessions))
	for _, s := range h.Server.sessions {
		out = append(out, s)
	}
	return out
}

// Do sends a JSON request and returns the response with its body read.
func (h *TestHarness) Do(method, path string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.BaseURL+path, rdr)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, data
}

// DoJSON sends a request, asserts the status, and decodes the body into out.
func (h *TestHarness) DoJSON(method, path string, body any, wantStatus int, out any) {
	h.t.Helper()
	resp, data := h.Do(method, path, body)
	require.Equal(h.t, wantStatus, resp.StatusCode, "body: %s", data)
	if out != nil {
		require.NoError(h.t, json.Unmarshal(data, out))
	}
}

// CreateDataset creates a dataset with the given fields and records.
func (h *TestHarness) CreateDataset(name string, fields []string, records ...RecordJSON) {
	h.t.Helper()
	req := CreateDatasetRequest{Name: name}
	for _, f := range fields {
		req.Fields = append(req.Fields, fieldDef(f))
	}
	h.DoJSON("POST", "/v1/datasets", req, http.StatusCreated, nil)
	if len(records) > 0 {
		h.DoJSON("POST", "/v1/datasets/"+name+"/records", InsertRecordsRequest{Records: records}, http.StatusCreated, nil)
	}
}

// Stream opens a websocket session on a dataset.
func (h *TestHarness) Stream(name string) *wsClient {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.BaseURL, "http") + "/v1/datasets/" + name + "/stream"
	header := http.Header{}
	if h.Token != "" {
		header.Set("Authorization", "Bearer "+h.Token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return &wsClient{t: h.t, conn: conn}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *wsClient) send(m protocol.Message) {
	c.t.Helper()
	data, err := protocol.Encode(m)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// next reads one frame, failing the test after five seconds.
func (c *wsClient) next() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := protocol.Decode(data)
	require.NoError(c.t, err)
	return msg
}
