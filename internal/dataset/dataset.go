// Package dataset defines the contract an ordered, indexed record collection
// must satisfy to be synchronized to remote clients, along with the
// structural change events it reports.
package dataset

import (
	"errors"
	"fmt"
)

// ID identifies a record. IDs are supplied by the dataset owner and must be
// non-empty and unique within one dataset.
type ID string

// FieldID names one mutable field of a record.
type FieldID string

var (
	// ErrIndexOutOfRange is returned by IDAt for an index outside [0, Size()).
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNotFound is returned when a record or field does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when inserting a record whose ID already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// Dataset is the read side of an ordered record collection. Indices refer to
// the current (possibly sorted or filtered) view.
type Dataset interface {
	Size() int
	// IDAt returns the identity at index, or ErrIndexOutOfRange.
	IDAt(index int) (ID, error)
	// IDsInRange returns identities for [start, start+count), clamped to the
	// current size.
	IDsInRange(start, count int) []ID
	// IndexOf returns the index of id, or -1 when absent or filtered out.
	IndexOf(id ID) int
	FieldIDs() []FieldID
	FieldValue(id ID, field FieldID) (any, error)
}

// Subscription cancels a registered callback. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// StructureNotifier is implemented by datasets that report inserts and removals.
type StructureNotifier interface {
	SubscribeStructure(fn func(Event)) Subscription
}

// FieldNotifier is implemented by datasets that report per-field value changes.
type FieldNotifier interface {
	SubscribeField(id ID, field FieldID, fn func(ID, FieldID)) Subscription
}

// MutationLocker is implemented by datasets whose mutators hold one lock
// from the change through the delivery of its notifications. A reader that
// holds the lock sees the dataset in the state its subscribers last heard
// about.
type MutationLocker interface {
	LockMutations()
	UnlockMutations()
}

// Event is a structural change notification. The set of cases is closed:
// Inserted, Removed, ContentsChanged, FieldsAdded and FieldsRemoved.
type Event interface {
	isEvent()
}

// Inserted reports Count records inserted starting at FirstIndex.
type Inserted struct {
	FirstIndex int
	Count      int
}

// Removed reports Count records removed starting at FirstIndex. IDs holds the
// removed identities in order; IDs[0] is the first removed identity.
type Removed struct {
	FirstIndex int
	Count      int
	IDs        []ID
}

// ContentsChanged reports an unstructured change (resort, refilter, bulk
// reload) with no index information.
type ContentsChanged struct{}

// FieldsAdded reports fields added to the dataset schema.
type FieldsAdded struct {
	Fields []FieldID
}

// FieldsRemoved reports fields removed from the dataset schema.
type FieldsRemoved struct {
	Fields []FieldID
}

func (Inserted) isEvent()        {}
func (Removed) isEvent()         {}
func (ContentsChanged) isEvent() {}
func (FieldsAdded) isEvent()     {}
func (FieldsRemoved) isEvent()   {}

func (e Inserted) String() string {
	return fmt.Sprintf("inserted(index=%d, count=%d)", e.FirstIndex, e.Count)
}

func (e Removed) String() string {
	return fmt.Sprintf("removed(index=%d, count=%d)", e.FirstIndex, e.Count)
}

func (ContentsChanged) String() string { return "contents-changed" }

// FirstID returns the first removed identity, or "" when none were reported.
func (e Removed) FirstID() ID {
	if len(e.IDs) == 0 {
		return ""
	}
	return e.IDs[0]
}

// Record is a convenience value for inserting records into a mutable dataset.
type Record struct {
	ID     ID
	Values map[FieldID]any
}
