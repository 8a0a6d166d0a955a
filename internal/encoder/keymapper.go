package encoder

import (
	"strconv"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/protocol"
)

// KeyMapper issues opaque row keys for identities. Keys come from an
// explicit per-mapper sequence and are never reused within one mapper.
type KeyMapper struct {
	next uint64
	keys map[dataset.ID]string
	ids  map[string]dataset.ID
}

var _ Generator = (*KeyMapper)(nil)

// NewKeyMapper returns an empty mapper whose first key is "1".
func NewKeyMapper() *KeyMapper {
	return &KeyMapper{
		keys: make(map[dataset.ID]string),
		ids:  make(map[string]dataset.ID),
	}
}

// Key returns the key for id, issuing one if needed.
func (k *KeyMapper) Key(id dataset.ID) string {
	if key, ok := k.keys[id]; ok {
		return key
	}
	k.next++
	key := strconv.FormatUint(k.next, 10)
	k.keys[id] = key
	k.ids[key] = id
	return key
}

// Lookup resolves a key back to its identity.
func (k *KeyMapper) Lookup(key string) (dataset.ID, bool) {
	id, ok := k.ids[key]
	return id, ok
}

// Has reports whether id currently holds a key.
func (k *KeyMapper) Has(id dataset.ID) bool {
	_, ok := k.keys[id]
	return ok
}

// Remove releases the key for id.
func (k *KeyMapper) Remove(id dataset.ID) {
	if key, ok := k.keys[id]; ok {
		delete(k.keys, id)
		delete(k.ids, key)
	}
}

// RemoveAll releases every key.
func (k *KeyMapper) RemoveAll() {
	clear(k.keys)
	clear(k.ids)
}

// Len returns the number of issued, unreleased keys.
func (k *KeyMapper) Len() int { return len(k.keys) }

func (k *KeyMapper) Generate(id dataset.ID, row *protocol.Row) error {
	row.Key = k.Key(id)
	return nil
}

func (k *KeyMapper) Destroy(id dataset.ID) { k.Remove(id) }
