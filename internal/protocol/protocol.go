// Package protocol defines the frames exchanged between a gridsync server and
// its viewport clients, and their JSON codec.
package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Frame type discriminators.
const (
	TypeRequestRows = "request_rows"
	TypeDropRows    = "drop_rows"
	TypeRefresh     = "refresh"

	TypeReset      = "reset"
	TypeSetRows    = "set_rows"
	TypeInsertRows = "insert_rows"
	TypeRemoveRows = "remove_rows"
	TypeFields     = "fields"
	TypeError      = "error"
)

// Error codes carried in Error frames.
const (
	CodeBadRequest       = "bad_request"
	CodeUnsupportedEvent = "unsupported_event"
	CodeEncoding         = "encoding_error"
	CodeInternal         = "internal"
)

// ErrUnknownType is returned by Decode for an unrecognized frame type.
var ErrUnknownType = errors.New("unknown frame type")

// Message is one protocol frame.
type Message interface {
	Type() string
}

// Row is one serialized row. Key is stable for as long as the row stays in
// the client's active window.
type Row struct {
	Key   string         `json:"k"`
	Cells map[string]any `json:"d"`
}

// RequestRows asks for rows [First, First+Count) while reporting that
// [CachedFirst, CachedFirst+CachedCount) is already held by the client.
type RequestRows struct {
	First       int `json:"first"`
	Count       int `json:"count"`
	CachedFirst int `json:"cached_first"`
	CachedCount int `json:"cached_count"`
}

// DropRows reports row keys the client evicted from its cache.
type DropRows struct {
	Keys []string `json:"keys"`
}

// Refresh asks the server to resend every active row.
type Refresh struct{}

// Reset tells the client to discard its cache; Size is the dataset size.
type Reset struct {
	Size   int      `json:"size"`
	Fields []string `json:"fields"`
}

// SetRows carries row payloads starting at First.
type SetRows struct {
	First int   `json:"first"`
	Rows  []Row `json:"rows"`
}

// InsertRows reports Count rows inserted at Index.
type InsertRows struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// RemoveRows reports Count rows removed at Index.
type RemoveRows struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Fields carries the visible column set after a schema change.
type Fields struct {
	Fields []string `json:"fields"`
}

// Error reports a session failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RequestRows) Type() string { return TypeRequestRows }
func (DropRows) Type() string    { return TypeDropRows }
func (Refresh) Type() string     { return TypeRefresh }
func (Reset) Type() string       { return TypeReset }
func (SetRows) Type() string     { return TypeSetRows }
func (InsertRows) Type() string  { return TypeInsertRows }
func (RemoveRows) Type() string  { return TypeRemoveRows }
func (Fields) Type() string      { return TypeFields }
func (Error) Type() string       { return TypeError }

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Body: body})
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var m Message
	switch env.Type {
	case TypeRequestRows:
		m = &RequestRows{}
	case TypeDropRows:
		m = &DropRows{}
	case TypeRefresh:
		m = &Refresh{}
	case TypeReset:
		m = &Reset{}
	case TypeSetRows:
		m = &SetRows{}
	case TypeInsertRows:
		m = &InsertRows{}
	case TypeRemoveRows:
		m = &RemoveRows{}
	case TypeFields:
		m = &Fields{}
	case TypeError:
		m = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return deref(m), nil
}

// deref returns frames by value so callers can type-switch on value types.
func deref(m Message) Message {
	switch v := m.(type) {
	case *RequestRows:
		return *v
	case *DropRows:
		return *v
	case *Refresh:
		return *v
	case *Reset:
		return *v
	case *SetRows:
		return *v
	case *InsertRows:
		return *v
	case *RemoveRows:
		return *v
	case *Fields:
		return *v
	case *Error:
		return *v
	}
	return m
}
