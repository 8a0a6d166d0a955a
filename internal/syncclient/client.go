package syncclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Client is an HTTP client for the gridsync server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a new client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Types (mirror internal/api, independently defined) ---

// Field describes one dataset field.
type Field struct {
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty"`
	Transform string `json:"transform,omitempty"`
}

// Dataset is the response from GET /v1/datasets/{name}.
type Dataset struct {
	Name   string  `json:"name"`
	Size   int     `json:"size"`
	Fields []Field `json:"fields"`
}

// Record is one record with its current index.
type Record struct {
	ID     string         `json:"id"`
	Index  int            `json:"index"`
	Values map[string]any `json:"values"`
}

// InsertResult is the response from POST /v1/datasets/{name}/records.
type InsertResult struct {
	IDs  []string `json:"ids"`
	Size int      `json:"size"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// --- Methods ---

// HealthCheck checks server health.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDatasets lists every dataset on the server.
func (c *Client) ListDatasets() ([]Dataset, error) {
	var resp struct {
		Datasets []Dataset `json:"datasets"`
	}
	if err := c.do("GET", "/v1/datasets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Datasets, nil
}

// CreateDataset creates an empty dataset with the given fields.
func (c *Client) CreateDataset(name string, fields []Field) (*Dataset, error) {
	body := map[string]any{"name": name, "fields": fields}
	var resp Dataset
	if err := c.do("POST", "/v1/datasets", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDataset returns a dataset's size and fields.
func (c *Client) GetDataset(name string) (*Dataset, error) {
	var resp Dataset
	if err := c.do("GET", datasetPath(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InsertRecords inserts records at index. A negative index appends.
func (c *Client) InsertRecords(name string, index int, recs []Record) (*InsertResult, error) {
	body := map[string]any{"records": recs}
	if index >= 0 {
		body["index"] = index
	}
	var resp InsertResult
	if err := c.do("POST", datasetPath(name)+"/records", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveRecords removes count records starting at index.
func (c *Client) RemoveRecords(name string, index, count int) error {
	params := url.Values{}
	params.Set("index", strconv.Itoa(index))
	params.Set("count", strconv.Itoa(count))
	return c.do("DELETE", datasetPath(name)+"/records?"+params.Encode(), nil, nil)
}

// GetRecord fetches one record by id.
func (c *Client) GetRecord(name, id string) (*Record, error) {
	var resp Record
	if err := c.do("GET", recordPath(name, id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateRecord sets field values on a record and returns the result.
func (c *Client) UpdateRecord(name, id string, values map[string]any) (*Record, error) {
	body := map[string]any{"values": values}
	var resp Record
	if err := c.do("PATCH", recordPath(name, id), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRecord removes a record by id.
func (c *Client) DeleteRecord(name, id string) error {
	return c.do("DELETE", recordPath(name, id), nil, nil)
}

// AddField appends a field to the dataset schema.
func (c *Client) AddField(name string, f Field) (*Dataset, error) {
	var resp Dataset
	if err := c.do("POST", datasetPath(name)+"/fields", f, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveField drops a field and its values.
func (c *Client) RemoveField(name, field string) (*Dataset, error) {
	var resp Dataset
	if err := c.do("DELETE", datasetPath(name)+"/fields/"+url.PathEscape(field), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func datasetPath(name string) string {
	return "/v1/datasets/" + url.PathEscape(name)
}

func recordPath(name, id string) string {
	return datasetPath(name) + "/records/" + url.PathEscape(id)
}

// --- HTTP helpers ---

// apiError is the structured error body returned by the server.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Code returns the server error code of err, or "" if err is not a server error.
func Code(err error) string {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
}

// statusError maps an error response to a sentinel-wrapped error where one
// applies, keeping the server's code reachable through Code.
func statusError(status int, body []byte) error {
	var env struct {
		Error apiError `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || env.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, bytes.TrimSpace(body))
	}
	apiErr := &env.Error
	apiErr.Status = status
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, apiErr)
	default:
		return apiErr
	}
}
