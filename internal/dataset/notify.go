package dataset

import (
	"sync"
)

type fieldKey struct {
	id    ID
	field FieldID
}

type structureSub struct {
	seq uint64
	fn  func(Event)
}

// Notifier is the listener registry shared by dataset implementations.
// Callbacks are invoked outside the registry lock, in subscription order for
// structure events.
type Notifier struct {
	mu        sync.Mutex
	seq       uint64
	structure []structureSub
	fields    map[fieldKey]map[uint64]func(ID, FieldID)
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

// SubscribeStructure registers fn for every structural event.
func (n *Notifier) SubscribeStructure(fn func(Event)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	seq := n.seq
	n.structure = append(n.structure, structureSub{seq: seq, fn: fn})
	return &subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.structure {
			if s.seq == seq {
				n.structure = append(n.structure[:i:i], n.structure[i+1:]...)
				return
			}
		}
	}}
}

// SubscribeField registers fn for value changes of one field of one record.
func (n *Notifier) SubscribeField(id ID, field FieldID, fn func(ID, FieldID)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fields == nil {
		n.fields = make(map[fieldKey]map[uint64]func(ID, FieldID))
	}
	n.seq++
	seq := n.seq
	key := fieldKey{id: id, field: field}
	subs := n.fields[key]
	if subs == nil {
		subs = make(map[uint64]func(ID, FieldID))
		n.fields[key] = subs
	}
	subs[seq] = fn
	return &subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.fields[key]; ok {
			delete(subs, seq)
			if len(subs) == 0 {
				delete(n.fields, key)
			}
		}
	}}
}

// PublishStructure delivers ev to every structure subscriber.
func (n *Notifier) PublishStructure(ev Event) {
	n.mu.Lock()
	subs := make([]structureSub, len(n.structure))
	copy(subs, n.structure)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// PublishField delivers a value change of (id, field) to its subscribers.
func (n *Notifier) PublishField(id ID, field FieldID) {
	n.mu.Lock()
	subs := n.fields[fieldKey{id: id, field: field}]
	fns := make([]func(ID, FieldID), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(id, field)
	}
}

// FieldSubscriptions returns the number of live (record, field) subscriptions.
func (n *Notifier) FieldSubscriptions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, subs := range n.fields {
		total += len(subs)
	}
	return total
}

// StructureSubscriptions returns the number of live structure subscriptions.
func (n *Notifier) StructureSubscriptions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.structure)
}
