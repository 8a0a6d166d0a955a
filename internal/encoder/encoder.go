// Package encoder turns dataset records into wire row payloads.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/protocol"
)

// Presentation is the value type a column is rendered as on the client.
type Presentation string

const (
	// Auto accepts any JSON scalar (string, number, bool) or nil.
	Auto   Presentation = ""
	Text   Presentation = "text"
	Number Presentation = "number"
	Bool   Presentation = "bool"
)

// ErrEncoding is matched by every *EncodingError.
var ErrEncoding = errors.New("encoding error")

// EncodingError reports a field value that cannot be presented as its
// column's type. It is fatal for the row being encoded.
type EncodingError struct {
	ID    dataset.ID
	Field dataset.FieldID
	Want  Presentation
	Got   string
	Err   error
}

func (e *EncodingError) Error() string {
	want := string(e.Want)
	if want == "" {
		want = "scalar"
	}
	msg := fmt.Sprintf("encode %s.%s: cannot present %s as %s", e.ID, e.Field, e.Got, want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }
func (e *EncodingError) Unwrap() error        { return e.Err }

// Transform converts a raw field value into its presented form.
type Transform func(v any) (any, error)

// Column configures how one field is presented. A column without a
// Transform requires the raw value to already match Type.
type Column struct {
	Field     dataset.FieldID
	Type      Presentation
	Transform Transform
}

// Generator contributes data to row payloads and is told when a record no
// longer needs it.
type Generator interface {
	Generate(id dataset.ID, row *protocol.Row) error
	Destroy(id dataset.ID)
}

type cached struct {
	sig string
	row protocol.Row
}

// Encoder serializes records of one dataset. It is not safe for concurrent
// use; each synchronization session owns its own Encoder.
type Encoder struct {
	ds         dataset.Dataset
	columns    map[dataset.FieldID]Column
	generators []Generator
	cache      *lru.Cache
	log        *slog.Logger
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithColumns configures presentation for the given fields.
func WithColumns(cols ...Column) Option {
	return func(e *Encoder) {
		for _, c := range cols {
			e.columns[c.Field] = c
		}
	}
}

// WithGenerators appends row data generators, run in order after the cells
// are encoded.
func WithGenerators(gs ...Generator) Option {
	return func(e *Encoder) { e.generators = append(e.generators, gs...) }
}

// WithCacheSize keeps up to n encoded rows. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(e *Encoder) {
		if n <= 0 {
			e.cache = nil
			return
		}
		c, err := lru.New(n)
		if err != nil {
			e.log.Warn("row cache disabled", "size", n, "err", err)
			return
		}
		e.cache = c
	}
}

// WithLogger sets the encoder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) { e.log = l }
}

// New returns an Encoder for ds.
func New(ds dataset.Dataset, opts ...Option) *Encoder {
	e := &Encoder{
		ds:      ds,
		columns: make(map[dataset.FieldID]Column),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetColumn adds or replaces the presentation of one field.
func (e *Encoder) SetColumn(c Column) {
	e.columns[c.Field] = c
	e.Purge()
}

// Encode builds the payload for id restricted to fields.
func (e *Encoder) Encode(id dataset.ID, fields []dataset.FieldID) (protocol.Row, error) {
	sig := signature(fields)
	if e.cache != nil {
		if v, ok := e.cache.Get(id); ok {
			if c := v.(cached); c.sig == sig {
				return c.row, nil
			}
		}
	}

	row := protocol.Row{Cells: make(map[string]any, len(fields))}
	for _, f := range fields {
		raw, err := e.ds.FieldValue(id, f)
		if err != nil {
			return protocol.Row{}, fmt.Errorf("encode %s.%s: %w", id, f, err)
		}
		v, err := e.present(id, f, raw)
		if err != nil {
			return protocol.Row{}, err
		}
		row.Cells[string(f)] = v
	}
	for _, g := range e.generators {
		if err := g.Generate(id, &row); err != nil {
			return protocol.Row{}, fmt.Errorf("generate %s: %w", id, err)
		}
	}

	if e.cache != nil {
		e.cache.Add(id, cached{sig: sig, row: row})
	}
	return row, nil
}

// Invalidate drops the cached payload for id.
func (e *Encoder) Invalidate(id dataset.ID) {
	if e.cache != nil {
		e.cache.Remove(id)
	}
}

// Purge drops every cached payload.
func (e *Encoder) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// Destroy releases everything held for id: generator state and the cached
// payload.
func (e *Encoder) Destroy(id dataset.ID) {
	for _, g := range e.generators {
		g.Destroy(id)
	}
	e.Invalidate(id)
}

func (e *Encoder) present(id dataset.ID, f dataset.FieldID, raw any) (any, error) {
	col, ok := e.columns[f]
	if !ok {
		col = Column{Field: f}
	}
	v := raw
	if col.Transform != nil && raw != nil {
		out, err := col.Transform(raw)
		if err != nil {
			return nil, &EncodingError{ID: id, Field: f, Want: col.Type, Got: fmt.Sprintf("%T", raw), Err: err}
		}
		v = out
	}
	if !compatible(col.Type, v) {
		return nil, &EncodingError{ID: id, Field: f, Want: col.Type, Got: fmt.Sprintf("%T", v)}
	}
	return v, nil
}

func compatible(p Presentation, v any) bool {
	if v == nil {
		return true
	}
	switch p {
	case Text:
		_, ok := v.(string)
		return ok
	case Number:
		return isNumber(v)
	case Bool:
		_, ok := v.(bool)
		return ok
	default:
		switch v.(type) {
		case string, bool:
			return true
		}
		return isNumber(v)
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func signature(fields []dataset.FieldID) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(string(f))
	}
	return b.String()
}
