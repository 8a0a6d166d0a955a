package window

import "github.com/marcus/gridsync/internal/dataset"

// subKey identifies one installed field subscription.
type subKey struct {
	id    dataset.ID
	field dataset.FieldID
}

// listener watches every visible field of one active record and reports the
// record as dirty when any of them changes. Several field changes before the
// next flush collapse into the same dirty identity downstream.
type listener struct {
	id      dataset.ID
	onDirty func(dataset.ID)
}

func (l *listener) fieldChanged(dataset.ID, dataset.FieldID) {
	l.onDirty(l.id)
}

// subscribe installs the listener on each field, recording the
// subscriptions in subs. Fields already subscribed are skipped.
func (l *listener) subscribe(n dataset.FieldNotifier, fields []dataset.FieldID, subs map[subKey]dataset.Subscription) {
	if n == nil {
		return
	}
	for _, f := range fields {
		key := subKey{id: l.id, field: f}
		if _, ok := subs[key]; ok {
			continue
		}
		subs[key] = n.SubscribeField(l.id, f, l.fieldChanged)
	}
}

// unsubscribe cancels the listener's subscriptions for fields.
func (l *listener) unsubscribe(fields []dataset.FieldID, subs map[subKey]dataset.Subscription) {
	for _, f := range fields {
		key := subKey{id: l.id, field: f}
		if s, ok := subs[key]; ok {
			s.Cancel()
			delete(subs, key)
		}
	}
}
