package window

import (
	"log/slog"
	"slices"

	"github.com/marcus/gridsync/internal/dataset"
)

// Tracker owns the active window of one synchronization session and the
// listeners installed for it. A listener exists for an identity iff that
// identity's index was inside the window at the last reconciliation.
//
// Tracker is not safe for concurrent use. Every method must be called from
// the session's serialized event path.
type Tracker struct {
	ds       dataset.Dataset
	notifier dataset.FieldNotifier

	active    Range
	fields    []dataset.FieldID
	listeners map[dataset.ID]*listener
	subs      map[subKey]dataset.Subscription

	onDirty  func(dataset.ID)
	onDetach func(dataset.ID)
	log      *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithDetachHook registers fn to run whenever an identity leaves the window.
func WithDetachHook(fn func(dataset.ID)) Option {
	return func(t *Tracker) { t.onDetach = fn }
}

// NewTracker returns a tracker with an empty window. onDirty is invoked with
// the identity of an active record whenever one of its visible fields changes.
func NewTracker(ds dataset.Dataset, fields []dataset.FieldID, onDirty func(dataset.ID), opts ...Option) *Tracker {
	t := &Tracker{
		ds:        ds,
		fields:    slices.Clone(fields),
		listeners: make(map[dataset.ID]*listener),
		subs:      make(map[subKey]dataset.Subscription),
		onDirty:   onDirty,
		onDetach:  func(dataset.ID) {},
		log:       slog.Default(),
	}
	if n, ok := ds.(dataset.FieldNotifier); ok {
		t.notifier = n
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetActiveWindow moves the window to r. Identities at positions leaving the
// window are detached and identities at positions entering it are attached,
// both resolved through the dataset at call time.
func (t *Tracker) SetActiveWindow(r Range) {
	if r == t.active {
		return
	}
	detached := 0
	before, after := t.active.PartitionWith(r)
	detached += t.detachRange(before)
	detached += t.detachRange(after)

	attached := 0
	before, after = r.PartitionWith(t.active)
	attached += t.attachRange(before)
	attached += t.attachRange(after)

	from := t.active
	t.active = r
	if len(t.listeners) > r.Length() {
		if n := t.prune(); n > 0 {
			detached += n
			attached += t.attachRange(r)
		}
	}
	t.log.Debug("window moved", "from", from.String(), "to", r.String(), "attached", attached, "detached", detached)
}

// OnRecordsInserted absorbs count records inserted at first.
func (t *Tracker) OnRecordsInserted(first, count int) {
	if count <= 0 {
		return
	}
	switch {
	case first < t.active.start:
		t.active = t.active.OffsetBy(count)
	case first < t.active.End():
		// The window keeps its span. Identities pushed past the end now sit
		// at [end, end+count).
		end := t.active.End()
		t.detachRange(span(end, end+count))
		t.attachRange(span(first, min(first+count, end)))
	}
}

// OnRecordRemoved drops the listener for id. When id was active the window
// shrinks by one; the freed slot is backfilled by the client's next window
// request. It reports whether id was active.
func (t *Tracker) OnRecordRemoved(id dataset.ID) bool {
	if !t.detach(id) {
		return false
	}
	t.active = span(t.active.start, t.active.End()-1)
	return true
}

// OnRecordsRemoved absorbs count records removed at first. Rows removed
// before the window pull its start down; each removed active identity
// shrinks it by one.
func (t *Tracker) OnRecordsRemoved(first, count int, ids []dataset.ID) {
	if count <= 0 {
		return
	}
	if preceding := min(first+count, t.active.start) - first; preceding > 0 {
		t.active = t.active.OffsetBy(-preceding)
	}
	for _, id := range ids {
		t.OnRecordRemoved(id)
	}
}

// OnFieldsAdded subscribes every active identity to the new fields.
func (t *Tracker) OnFieldsAdded(fields []dataset.FieldID) {
	var added []dataset.FieldID
	for _, f := range fields {
		if !slices.Contains(t.fields, f) {
			t.fields = append(t.fields, f)
			added = append(added, f)
		}
	}
	for _, l := range t.listeners {
		l.subscribe(t.notifier, added, t.subs)
	}
}

// OnFieldsRemoved unsubscribes every active identity from the fields.
func (t *Tracker) OnFieldsRemoved(fields []dataset.FieldID) {
	for _, l := range t.listeners {
		l.unsubscribe(fields, t.subs)
	}
	t.fields = slices.DeleteFunc(t.fields, func(f dataset.FieldID) bool {
		return slices.Contains(fields, f)
	})
}

// DetachAll removes every listener and empties the window. It is safe to
// call more than once.
func (t *Tracker) DetachAll() {
	for id := range t.listeners {
		t.detach(id)
	}
	for key, s := range t.subs {
		s.Cancel()
		delete(t.subs, key)
	}
	t.active = Range{start: t.active.start}
}

// IsActive reports whether id currently has a listener.
func (t *Tracker) IsActive(id dataset.ID) bool {
	_, ok := t.listeners[id]
	return ok
}

// ActiveIDs returns the identities with installed listeners, in no
// particular order.
func (t *Tracker) ActiveIDs() []dataset.ID {
	ids := make([]dataset.ID, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	return ids
}

// Fields returns the fields each active identity is subscribed to.
func (t *Tracker) Fields() []dataset.FieldID {
	return slices.Clone(t.fields)
}

func (t *Tracker) attachRange(r Range) int {
	if r.IsEmpty() {
		return 0
	}
	n := 0
	for _, id := range t.ds.IDsInRange(r.start, r.length) {
		if t.attach(id) {
			n++
		}
	}
	return n
}

func (t *Tracker) detachRange(r Range) int {
	if r.IsEmpty() {
		return 0
	}
	n := 0
	for _, id := range t.ds.IDsInRange(r.start, r.length) {
		if t.detach(id) {
			n++
		}
	}
	return n
}

// attach installs a listener for id unless one already exists. This happens
// legitimately when identities reappear at shifted positions.
func (t *Tracker) attach(id dataset.ID) bool {
	if _, ok := t.listeners[id]; ok {
		return false
	}
	l := &listener{id: id, onDirty: t.onDirty}
	l.subscribe(t.notifier, t.fields, t.subs)
	t.listeners[id] = l
	return true
}

// detach removes the listener for id. A missing listener is not an error.
func (t *Tracker) detach(id dataset.ID) bool {
	l, ok := t.listeners[id]
	if !ok {
		return false
	}
	l.unsubscribe(t.fields, t.subs)
	delete(t.listeners, id)
	t.onDetach(id)
	return true
}

// prune detaches listeners whose identity no longer resolves inside the
// window, which happens when structural changes went unreported.
func (t *Tracker) prune() int {
	n := 0
	for id := range t.listeners {
		if !t.active.Contains(t.ds.IndexOf(id)) {
			t.detach(id)
			n++
		}
	}
	return n
}
