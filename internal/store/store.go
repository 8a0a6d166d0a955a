// Package store persists ordered datasets in SQLite. A Store keeps the
// current view in memory and writes every mutation through to the database
// before publishing it to subscribers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/encoder"
)

// Kind is the stored type of a field's values.
type Kind string

const (
	KindAny    Kind = ""
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
)

var (
	// ErrInvalidField is returned for malformed field definitions.
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidValue is returned for values that do not match their field's kind.
	ErrInvalidValue = errors.New("invalid value")
)

// FieldDef describes one field of a dataset.
type FieldDef struct {
	Name      dataset.FieldID `json:"name"`
	Kind      Kind            `json:"kind,omitempty"`
	Transform string          `json:"transform,omitempty"`
}

func (d FieldDef) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	switch d.Kind {
	case KindAny, KindText, KindNumber, KindBool, KindTime:
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidField, d.Name, d.Kind)
	}
	if d.Transform != "" {
		if _, ok := encoder.Transforms[d.Transform]; !ok {
			return fmt.Errorf("%w: %s has unknown transform %q", ErrInvalidField, d.Name, d.Transform)
		}
	}
	return nil
}

// Column returns the presentation of the field.
func (d FieldDef) Column() encoder.Column {
	col := encoder.Column{Field: d.Name}
	if d.Transform != "" {
		col.Type = encoder.Text
		col.Transform = encoder.Transforms[d.Transform]
		return col
	}
	switch d.Kind {
	case KindText:
		col.Type = encoder.Text
	case KindNumber:
		col.Type = encoder.Number
	case KindBool:
		col.Type = encoder.Bool
	case KindTime:
		col.Type = encoder.Text
		col.Transform = encoder.Transforms["rfc3339"]
	}
	return col
}

// Store is a persistent dataset. Reads are served from memory; writes are
// serialized and committed to SQLite before the in-memory view changes.
type Store struct {
	*dataset.Memory

	wmu  sync.Mutex // held by mutators through notification delivery
	mu   sync.Mutex // guards defs
	db   *sql.DB
	defs []FieldDef
}

var (
	_ dataset.Dataset           = (*Store)(nil)
	_ dataset.StructureNotifier = (*Store)(nil)
	_ dataset.FieldNotifier     = (*Store)(nil)
	_ dataset.MutationLocker    = (*Store)(nil)
)

// Open opens the dataset database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA foreign_keys=ON")

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New initializes the schema on db and loads its contents.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(SchemaVersion)); err != nil {
		return nil, fmt.Errorf("set schema version: %w", err)
	}
	s := &Store{db: db}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FieldDefs returns the field definitions in display order.
func (s *Store) FieldDefs() []FieldDef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.defs)
}

// LockMutations holds off every mutator until UnlockMutations.
func (s *Store) LockMutations() { s.wmu.Lock() }

// UnlockMutations releases the lock taken by LockMutations.
func (s *Store) UnlockMutations() { s.wmu.Unlock() }

// Column returns the presentation of one field.
func (s *Store) Column(name dataset.FieldID) (encoder.Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.def(name)
	if !ok {
		return encoder.Column{}, false
	}
	return d.Column(), true
}

// Columns returns the presentation of every field.
func (s *Store) Columns() []encoder.Column {
	defs := s.FieldDefs()
	cols := make([]encoder.Column, len(defs))
	for i, d := range defs {
		cols[i] = d.Column()
	}
	return cols
}

// Insert places recs at index and persists them.
func (s *Store) Insert(ctx context.Context, index int, recs ...dataset.Record) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.insert(ctx, index, recs)
}

// Append adds recs at the end.
func (s *Store) Append(ctx context.Context, recs ...dataset.Record) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.insert(ctx, s.Memory.Size(), recs)
}

func (s *Store) insert(ctx context.Context, index int, recs []dataset.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if size := s.Memory.Size(); index < 0 || index > size {
		return fmt.Errorf("insert at %d (size %d): %w", index, size, dataset.ErrIndexOutOfRange)
	}
	seen := make(map[dataset.ID]bool, len(recs))
	normalized := make([]dataset.Record, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return fmt.Errorf("insert: empty record id")
		}
		if seen[r.ID] || s.Memory.IndexOf(r.ID) >= 0 {
			return fmt.Errorf("insert %q: %w", r.ID, dataset.ErrDuplicateID)
		}
		seen[r.ID] = true
		vals, err := s.normalizeRecord(r)
		if err != nil {
			return err
		}
		normalized[i] = dataset.Record{ID: r.ID, Values: vals}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE records SET pos = pos + ? WHERE pos >= ?`, len(recs), index); err != nil {
			return fmt.Errorf("shift records: %w", err)
		}
		for i, r := range normalized {
			if _, err := tx.ExecContext(ctx, `INSERT INTO records (id, pos) VALUES (?, ?)`, string(r.ID), index+i); err != nil {
				return fmt.Errorf("insert record %s: %w", r.ID, err)
			}
			for f, v := range r.Values {
				if err := putValue(ctx, tx, r.ID, f, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.Memory.Insert(index, normalized...)
}

// Remove deletes count records starting at index.
func (s *Store) Remove(ctx context.Context, index, count int) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.remove(ctx, index, count)
}

func (s *Store) remove(ctx context.Context, index, count int) error {
	if count <= 0 {
		return nil
	}

	if size := s.Memory.Size(); index < 0 || index+count > size {
		return fmt.Errorf("remove [%d,%d) (size %d): %w", index, index+count, size, dataset.ErrIndexOutOfRange)
	}
	ids := s.Memory.IDsInRange(index, count)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM record_values WHERE record_id = ?`, string(id)); err != nil {
				return fmt.Errorf("delete values %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, string(id)); err != nil {
				return fmt.Errorf("delete record %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE records SET pos = pos - ? WHERE pos >= ?`, count, index+count); err != nil {
			return fmt.Errorf("shift records: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.Memory.Remove(index, count)
}

// RemoveID deletes the record with the given id.
func (s *Store) RemoveID(ctx context.Context, id dataset.ID) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	i := s.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("remove %q: %w", id, dataset.ErrNotFound)
	}
	return s.remove(ctx, i, 1)
}

// Set changes one field value.
func (s *Store) Set(ctx context.Context, id dataset.ID, field dataset.FieldID, value any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.set(ctx, id, field, value)
}

func (s *Store) set(ctx context.Context, id dataset.ID, field dataset.FieldID, value any) error {
	if s.Memory.IndexOf(id) < 0 {
		return fmt.Errorf("set %q: %w", id, dataset.ErrNotFound)
	}
	def, ok := s.def(field)
	if !ok {
		return fmt.Errorf("set %q.%s: field %w", id, field, dataset.ErrNotFound)
	}
	v, err := normalize(def, value)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		return putValue(ctx, tx, id, field, v)
	})
	if err != nil {
		return err
	}
	return s.Memory.Set(id, field, v)
}

// Update changes several fields of one record.
func (s *Store) Update(ctx context.Context, id dataset.ID, values map[dataset.FieldID]any) error {
	keys := make([]dataset.FieldID, 0, len(values))
	for f := range values {
		keys = append(keys, f)
	}
	slices.Sort(keys)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, f := range keys {
		if err := s.set(ctx, id, f, values[f]); err != nil {
			return err
		}
	}
	return nil
}

// AddFields appends field definitions. Fields that already exist are
// ignored.
func (s *Store) AddFields(ctx context.Context, defs ...FieldDef) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var added []FieldDef
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return err
		}
		if _, ok := s.def(d.Name); ok || slices.ContainsFunc(added, func(a FieldDef) bool { return a.Name == d.Name }) {
			continue
		}
		added = append(added, d)
	}
	if len(added) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, d := range added {
			_, err := tx.ExecContext(ctx, `INSERT INTO fields (name, kind, transform, seq) VALUES (?, ?, ?, ?)`,
				string(d.Name), string(d.Kind), d.Transform, len(s.defs)+i)
			if err != nil {
				return fmt.Errorf("insert field %s: %w", d.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.defs = append(s.defs, added...)
	s.mu.Unlock()
	names := make([]dataset.FieldID, len(added))
	for i, d := range added {
		names[i] = d.Name
	}
	s.Memory.AddFields(names...)
	return nil
}

// RemoveFields drops fields and their stored values.
func (s *Store) RemoveFields(ctx context.Context, names ...dataset.FieldID) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range names {
			if _, err := tx.ExecContext(ctx, `DELETE FROM record_values WHERE field = ?`, string(n)); err != nil {
				return fmt.Errorf("delete values of %s: %w", n, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE name = ?`, string(n)); err != nil {
				return fmt.Errorf("delete field %s: %w", n, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.defs = slices.DeleteFunc(s.defs, func(d FieldDef) bool { return slices.Contains(names, d.Name) })
	s.mu.Unlock()
	s.Memory.RemoveFields(names...)
	return nil
}

func (s *Store) def(name dataset.FieldID) (FieldDef, bool) {
	for _, d := range s.defs {
		if d.Name == name {
			return d, true
		}
	}
	return FieldDef{}, false
}

func (s *Store) normalizeRecord(r dataset.Record) (map[dataset.FieldID]any, error) {
	vals := make(map[dataset.FieldID]any, len(r.Values))
	for f, v := range r.Values {
		def, ok := s.def(f)
		if !ok {
			return nil, fmt.Errorf("insert %q.%s: field %w", r.ID, f, dataset.ErrNotFound)
		}
		nv, err := normalize(def, v)
		if err != nil {
			return nil, fmt.Errorf("insert %q: %w", r.ID, err)
		}
		vals[f] = nv
	}
	return vals, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT name, kind, transform FROM fields ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("load fields: %w", err)
	}
	var defs []FieldDef
	for rows.Next() {
		var d FieldDef
		var name, kind string
		if err := rows.Scan(&name, &kind, &d.Transform); err != nil {
			rows.Close()
			return fmt.Errorf("scan field: %w", err)
		}
		d.Name, d.Kind = dataset.FieldID(name), Kind(kind)
		defs = append(defs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load fields: %w", err)
	}

	byName := make(map[dataset.FieldID]FieldDef, len(defs))
	names := make([]dataset.FieldID, len(defs))
	for i, d := range defs {
		byName[d.Name] = d
		names[i] = d.Name
	}

	rows, err = s.db.Query(`SELECT id FROM records ORDER BY pos`)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	var recs []dataset.Record
	index := make(map[dataset.ID]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan record: %w", err)
		}
		index[dataset.ID(id)] = len(recs)
		recs = append(recs, dataset.Record{ID: dataset.ID(id), Values: make(map[dataset.FieldID]any)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	rows, err = s.db.Query(`SELECT record_id, field, value FROM record_values`)
	if err != nil {
		return fmt.Errorf("load values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, field, raw string
		if err := rows.Scan(&id, &field, &raw); err != nil {
			return fmt.Errorf("scan value: %w", err)
		}
		i, ok := index[dataset.ID(id)]
		def, known := byName[dataset.FieldID(field)]
		if !ok || !known {
			continue
		}
		v, err := decode(def, raw)
		if err != nil {
			return fmt.Errorf("load %s.%s: %w", id, field, err)
		}
		recs[i].Values[def.Name] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load values: %w", err)
	}

	s.defs = defs
	s.Memory = dataset.NewMemory(names...)
	return s.Memory.Append(recs...)
}

func putValue(ctx context.Context, tx *sql.Tx, id dataset.ID, field dataset.FieldID, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s.%s: %w", id, field, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO record_values (record_id, field, value) VALUES (?, ?, ?)
		ON CONFLICT(record_id, field) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		string(id), string(field), string(raw))
	if err != nil {
		return fmt.Errorf("put %s.%s: %w", id, field, err)
	}
	return nil
}

// normalize converts v to the in-memory form of def's kind, the same form
// a value takes after a round trip through the database.
func normalize(def FieldDef, v any) (any, error) {
	nv, err := convert(def, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nv, nil
}

func convert(def FieldDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if def.Kind == KindTime {
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return parseTime(def, t)
		}
		return nil, fmt.Errorf("%s: want time, got %T", def.Name, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}
	return decode(def, string(raw))
}

func decode(def FieldDef, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}
	if v == nil {
		return nil, nil
	}
	switch def.Kind {
	case KindText:
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("%s: want text, got %T", def.Name, v)
		}
	case KindNumber:
		if _, ok := v.(float64); !ok {
			return nil, fmt.Errorf("%s: want number, got %T", def.Name, v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return nil, fmt.Errorf("%s: want bool, got %T", def.Name, v)
		}
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want time, got %T", def.Name, v)
		}
		return parseTime(def, s)
	case KindAny:
		switch v.(type) {
		case string, float64, bool:
		default:
			return nil, fmt.Errorf("%s: want scalar, got %T", def.Name, v)
		}
	}
	return v, nil
}

func parseTime(def FieldDef, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", def.Name, err)
	}
	return t.UTC(), nil
}
