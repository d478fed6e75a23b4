package weft

import (
	"slices"
	"sort"
)

// Event describes the changes one transaction made to one container. The
// same event value is delivered to the container's own observers and,
// re-targeted, to the deep observers of every ancestor.
type Event struct {
	target        *Branch
	currentTarget *Branch
	txn           *Transaction

	keys        map[string]struct{}
	listChanged bool
}

// Target returns the container that changed.
func (e *Event) Target() *Branch { return e.target }

// Transaction returns the transaction that produced the event.
func (e *Event) Transaction() *Transaction { return e.txn }

// Keys returns the names of the key slots that changed. May be nil.
func (e *Event) Keys() map[string]struct{} { return e.keys }

// ListChanged reports whether list positions were inserted or deleted.
func (e *Event) ListChanged() bool { return e.listChanged }

// Path returns the route from the observed container down to the target:
// key names for map positions, integer indexes for list positions.
func (e *Event) Path() []any {
	var path []any
	child := e.target
	for child != e.currentTarget && child.item != nil {
		it := child.item
		if it.parentSub != "" {
			path = append(path, it.parentSub)
		} else {
			i := 0
			for c := it.parent.start; c != nil && c != it; c = c.right {
				if !c.deleted() && c.countable() {
					i += int(c.length)
				}
			}
			path = append(path, i)
		}
		child = it.parent
	}
	slices.Reverse(path)
	return path
}

// callObservers fires the container's own observers and records the
// event on every ancestor for the deep observer phase.
func (b *Branch) callObservers(txn *Transaction, subs map[string]struct{}) {
	if !txn.local {
		b.invalidateMarker()
	}
	e := &Event{target: b, currentTarget: b, txn: txn}
	for sub := range subs {
		if sub == "" {
			e.listChanged = true
		} else {
			if e.keys == nil {
				e.keys = map[string]struct{}{}
			}
			e.keys[sub] = struct{}{}
		}
	}
	t := b
	for {
		txn.changedParentTypes[t] = append(txn.changedParentTypes[t], e)
		if t.item == nil || t.item.parent == nil {
			break
		}
		t = t.item.parent
	}
	fs := make([]func(), 0, len(b.observers))
	for _, f := range b.observers {
		f := f
		fs = append(fs, func() { f(e) })
	}
	callAll(fs)
}

// callDeepObservers delivers the subtree's events, live targets only,
// sorted shallow first.
func (b *Branch) callDeepObservers(txn *Transaction, events []*Event) {
	if len(b.deepObservers) == 0 {
		return
	}
	live := make([]*Event, 0, len(events))
	for _, e := range events {
		if e.target.item == nil || !e.target.item.deleted() {
			e.currentTarget = b
			live = append(live, e)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return len(live[i].Path()) < len(live[j].Path())
	})
	fs := make([]func(), 0, len(b.deepObservers))
	for _, f := range b.deepObservers {
		f := f
		fs = append(fs, func() { f(live) })
	}
	callAll(fs)
}
