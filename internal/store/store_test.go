package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/encoder"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	require.NoError(t, s.AddFields(context.Background(),
		FieldDef{Name: "title", Kind: KindText},
		FieldDef{Name: "size", Kind: KindNumber, Transform: "bytes"},
		FieldDef{Name: "due", Kind: KindTime},
	))
	return s
}

func task(id, title string) dataset.Record {
	return dataset.Record{ID: dataset.ID(id), Values: map[dataset.FieldID]any{"title": title}}
}

func TestInsertKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Append(ctx, task("a", "A"), task("c", "C")))
	require.NoError(t, s.Insert(ctx, 1, task("b", "B")))
	require.NoError(t, s.Insert(ctx, 0, task("z", "Z")))

	assert.Equal(t, []dataset.ID{"z", "a", "b", "c"}, s.IDsInRange(0, 10))

	var pos int
	require.NoError(t, s.db.QueryRow(`SELECT pos FROM records WHERE id = 'c'`).Scan(&pos))
	assert.Equal(t, 3, pos)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Append(ctx, task("a", "A")))

	assert.ErrorIs(t, s.Insert(ctx, 3, task("x", "X")), dataset.ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Append(ctx, task("a", "dup")), dataset.ErrDuplicateID)
	assert.ErrorIs(t, s.Append(ctx, dataset.Record{ID: "q", Values: map[dataset.FieldID]any{"nope": 1}}), dataset.ErrNotFound)
	assert.Error(t, s.Append(ctx, dataset.Record{ID: "q", Values: map[dataset.FieldID]any{"title": 7}}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n))
	assert.Equal(t, 1, n, "rejected inserts leave no rows behind")
}

func TestRemoveShiftsPositions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Append(ctx, task("a", ""), task("b", ""), task("c", ""), task("d", "")))

	var got []dataset.Event
	s.SubscribeStructure(func(ev dataset.Event) { got = append(got, ev) })

	require.NoError(t, s.Remove(ctx, 1, 2))
	require.NoError(t, s.RemoveID(ctx, "a"))
	assert.ErrorIs(t, s.RemoveID(ctx, "a"), dataset.ErrNotFound)

	assert.Equal(t, []dataset.Event{
		dataset.Removed{FirstIndex: 1, Count: 2, IDs: []dataset.ID{"b", "c"}},
		dataset.Removed{FirstIndex: 0, Count: 1, IDs: []dataset.ID{"a"}},
	}, got)

	var pos int
	require.NoError(t, s.db.QueryRow(`SELECT pos FROM records WHERE id = 'd'`).Scan(&pos))
	assert.Equal(t, 0, pos)
	var values int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM record_values`).Scan(&values))
	assert.Equal(t, 1, values)
}

func TestSetNormalizesAndNotifies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Append(ctx, task("a", "A")))

	var hits int
	s.SubscribeField("a", "size", func(dataset.ID, dataset.FieldID) { hits++ })

	require.NoError(t, s.Set(ctx, "a", "size", 2048))
	v, err := s.FieldValue("a", "size")
	require.NoError(t, err)
	assert.Equal(t, float64(2048), v)
	assert.Equal(t, 1, hits)

	require.NoError(t, s.Set(ctx, "a", "due", "2024-03-01T10:00:00+02:00"))
	v, err = s.FieldValue("a", "due")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), v)

	assert.Error(t, s.Set(ctx, "a", "due", "tomorrow"))
	assert.Error(t, s.Set(ctx, "a", "title", true))
	assert.ErrorIs(t, s.Set(ctx, "zz", "title", "x"), dataset.ErrNotFound)
	assert.ErrorIs(t, s.Set(ctx, "a", "nope", "x"), dataset.ErrNotFound)

	require.NoError(t, s.Update(ctx, "a", map[dataset.FieldID]any{"title": "A2", "size": nil}))
	rec, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "A2", rec.Values["title"])
	assert.Nil(t, rec.Values["size"])
}

func TestFieldsAddRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Append(ctx, task("a", "A")))

	var got []dataset.Event
	s.SubscribeStructure(func(ev dataset.Event) { got = append(got, ev) })

	require.NoError(t, s.AddFields(ctx, FieldDef{Name: "title"}, FieldDef{Name: "done", Kind: KindBool}))
	assert.ErrorIs(t, s.AddFields(ctx, FieldDef{Name: "x", Kind: "blob"}), ErrInvalidField)
	assert.ErrorIs(t, s.AddFields(ctx, FieldDef{Name: "x", Transform: "shout"}), ErrInvalidField)
	require.NoError(t, s.RemoveFields(ctx, "title"))

	assert.Equal(t, []dataset.FieldID{"size", "due", "done"}, s.FieldIDs())
	assert.Equal(t, []dataset.Event{
		dataset.FieldsAdded{Fields: []dataset.FieldID{"done"}},
		dataset.FieldsRemoved{Fields: []dataset.FieldID{"title"}},
	}, got)

	var values int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM record_values WHERE field = 'title'`).Scan(&values))
	assert.Zero(t, values)
}

func TestColumns(t *testing.T) {
	s := newTestStore(t)
	cols := s.Columns()
	require.Len(t, cols, 3)
	assert.Equal(t, encoder.Text, cols[0].Type)
	assert.Equal(t, encoder.Text, cols[1].Type, "transformed fields present as text")
	assert.NotNil(t, cols[1].Transform)
	assert.NotNil(t, cols[2].Transform)
}

func TestReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddFields(ctx, FieldDef{Name: "title", Kind: KindText}, FieldDef{Name: "due", Kind: KindTime}))
	due := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Append(ctx,
		dataset.Record{ID: "b", Values: map[dataset.FieldID]any{"title": "second", "due": due}},
	))
	require.NoError(t, s.Insert(ctx, 0, task("a", "first")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	assert.Equal(t, []dataset.ID{"a", "b"}, s.IDsInRange(0, 2))
	assert.Equal(t, []FieldDef{{Name: "title", Kind: KindText}, {Name: "due", Kind: KindTime}}, s.FieldDefs())
	v, err := s.FieldValue("b", "due")
	require.NoError(t, err)
	assert.Equal(t, due, v)
}
