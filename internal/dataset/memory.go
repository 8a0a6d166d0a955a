package dataset

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// Memory is an in-memory ordered dataset. It is safe for concurrent use.
// Notifications are published after the data lock is released but before
// the mutation lock is.
type Memory struct {
	Notifier

	wmu     sync.Mutex
	mu      sync.RWMutex
	order   []ID
	index   map[ID]int
	records map[ID]map[FieldID]any
	fields  []FieldID
}

var (
	_ Dataset           = (*Memory)(nil)
	_ StructureNotifier = (*Memory)(nil)
	_ FieldNotifier     = (*Memory)(nil)
	_ MutationLocker    = (*Memory)(nil)
)

// NewMemory returns an empty dataset with the given schema.
func NewMemory(fields ...FieldID) *Memory {
	return &Memory{
		index:   make(map[ID]int),
		records: make(map[ID]map[FieldID]any),
		fields:  slices.Clone(fields),
	}
}

// LockMutations holds off every mutator until UnlockMutations.
func (m *Memory) LockMutations() { m.wmu.Lock() }

// UnlockMutations releases the lock taken by LockMutations.
func (m *Memory) UnlockMutations() { m.wmu.Unlock() }

func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *Memory) IDAt(index int) (ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.order) {
		return "", fmt.Errorf("id at %d (size %d): %w", index, len(m.order), ErrIndexOutOfRange)
	}
	return m.order[index], nil
}

func (m *Memory) IDsInRange(start, count int) []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = max(start, 0)
	end := min(start+count, len(m.order))
	if end <= start {
		return nil
	}
	return slices.Clone(m.order[start:end])
}

func (m *Memory) IndexOf(id ID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i, ok := m.index[id]; ok {
		return i
	}
	return -1
}

func (m *Memory) FieldIDs() []FieldID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.fields)
}

func (m *Memory) FieldValue(id ID, field FieldID) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	if !slices.Contains(m.fields, field) {
		return nil, fmt.Errorf("field %q: %w", field, ErrNotFound)
	}
	return rec[field], nil
}

// Get returns a copy of the record with the given id.
func (m *Memory) Get(id ID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	return Record{ID: id, Values: maps.Clone(rec)}, nil
}

// Insert places recs at index, shifting later records down.
func (m *Memory) Insert(index int, recs ...Record) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.insert(index, recs)
}

// Append adds recs at the end.
func (m *Memory) Append(recs ...Record) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.insert(m.Size(), recs)
}

func (m *Memory) insert(index int, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	m.mu.Lock()
	if index < 0 || index > len(m.order) {
		n := len(m.order)
		m.mu.Unlock()
		return fmt.Errorf("insert at %d (size %d): %w", index, n, ErrIndexOutOfRange)
	}
	ids := make([]ID, 0, len(recs))
	seen := make(map[ID]bool, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			m.mu.Unlock()
			return fmt.Errorf("insert: empty record id")
		}
		if _, ok := m.records[r.ID]; ok || seen[r.ID] {
			m.mu.Unlock()
			return fmt.Errorf("insert %q: %w", r.ID, ErrDuplicateID)
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	for _, r := range recs {
		vals := make(map[FieldID]any, len(m.fields))
		for _, f := range m.fields {
			if v, ok := r.Values[f]; ok {
				vals[f] = v
			}
		}
		m.records[r.ID] = vals
	}
	m.order = slices.Insert(m.order, index, ids...)
	m.reindexFrom(index)
	m.mu.Unlock()

	m.PublishStructure(Inserted{FirstIndex: index, Count: len(recs)})
	return nil
}

// Remove deletes count records starting at index.
func (m *Memory) Remove(index, count int) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.remove(index, count)
}

func (m *Memory) remove(index, count int) error {
	if count <= 0 {
		return nil
	}
	m.mu.Lock()
	if index < 0 || index+count > len(m.order) {
		n := len(m.order)
		m.mu.Unlock()
		return fmt.Errorf("remove [%d,%d) (size %d): %w", index, index+count, n, ErrIndexOutOfRange)
	}
	removed := slices.Clone(m.order[index : index+count])
	for _, id := range removed {
		delete(m.records, id)
		delete(m.index, id)
	}
	m.order = slices.Delete(m.order, index, index+count)
	m.reindexFrom(index)
	m.mu.Unlock()

	m.PublishStructure(Removed{FirstIndex: index, Count: count, IDs: removed})
	return nil
}

// RemoveID deletes the record with the given id.
func (m *Memory) RemoveID(id ID) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	i := m.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	return m.remove(i, 1)
}

// Set changes one field value and notifies its subscribers.
func (m *Memory) Set(id ID, field FieldID, value any) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("set %q: %w", id, ErrNotFound)
	}
	if !slices.Contains(m.fields, field) {
		m.mu.Unlock()
		return fmt.Errorf("set %q.%s: field %w", id, field, ErrNotFound)
	}
	rec[field] = value
	m.mu.Unlock()

	m.PublishField(id, field)
	return nil
}

// AddFields extends the schema.
func (m *Memory) AddFields(fields ...FieldID) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	m.mu.Lock()
	var added []FieldID
	for _, f := range fields {
		if !slices.Contains(m.fields, f) {
			m.fields = append(m.fields, f)
			added = append(added, f)
		}
	}
	m.mu.Unlock()

	if len(added) > 0 {
		m.PublishStructure(FieldsAdded{Fields: added})
	}
}

// RemoveFields shrinks the schema and drops the stored values.
func (m *Memory) RemoveFields(fields ...FieldID) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	m.mu.Lock()
	var removed []FieldID
	for _, f := range fields {
		if i := slices.Index(m.fields, f); i >= 0 {
			m.fields = slices.Delete(m.fields, i, i+1)
			removed = append(removed, f)
			for _, rec := range m.records {
				delete(rec, f)
			}
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		m.PublishStructure(FieldsRemoved{Fields: removed})
	}
}

// Sort reorders the view. Sorting carries no index information, so it is
// reported as ContentsChanged.
func (m *Memory) Sort(less func(a, b Record) bool) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	m.mu.Lock()
	sort.SliceStable(m.order, func(i, j int) bool {
		a, b := m.order[i], m.order[j]
		return less(Record{ID: a, Values: m.records[a]}, Record{ID: b, Values: m.records[b]})
	})
	m.reindexFrom(0)
	m.mu.Unlock()

	m.PublishStructure(ContentsChanged{})
}

func (m *Memory) reindexFrom(start int) {
	for i := start; i < len(m.order); i++ {
		m.index[m.order[i]] = i
	}
}
