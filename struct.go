package weft

// Struct is the unit of storage and of the wire formats: a contiguous
// span of clocks from one client. Exactly three kinds exist: a live node
// (*Item), a collected tombstone (*GC) and a decode-time causal-gap
// placeholder (*Skip).
type Struct interface {
	ID() ID
	Len() uint64
	Deleted() bool
	// Merge folds right into the receiver if compatible. right must be
	// the receiver's immediate clock successor.
	Merge(right Struct) bool
	// Write encodes the struct starting at offset clocks in.
	Write(enc UpdateEncoder, offset uint64)
	// Integrate places the struct into the live document.
	Integrate(txn *Transaction, offset uint64)
	// missing reports a client whose state the struct causally depends
	// on beyond what the store holds.
	missing(txn *Transaction, store *StructStore) (uint64, bool)
}

// Item info flag bits.
const (
	flagKeep      uint8 = 1 << 0
	flagCountable uint8 = 1 << 1
	flagDeleted   uint8 = 1 << 2
	flagMarker    uint8 = 1 << 3
)

// Wire info byte bits (beyond the low five content-discriminant bits).
const (
	infoParentSub   byte = 0x20
	infoRightOrigin byte = 0x40
	infoOrigin      byte = 0x80
)

// Item is a live node: a span of content plus the causal context needed
// to place it deterministically among concurrent siblings.
type Item struct {
	id     ID
	length uint64

	// left and right are the current live neighbors within the parent.
	// They are recomputed during integration.
	left  *Item
	right *Item

	// origin and rightOrigin snapshot left/right at creation time and
	// never change afterwards. They drive conflict resolution only.
	origin      *ID
	rightOrigin *ID

	// Exactly one of parent/parentID/parentName is set before
	// integration resolves the owning container.
	parent     *Branch
	parentID   *ID
	parentName *string

	// parentSub is the key when this node is a key-slot value, "" when
	// it is list-positioned.
	parentSub string

	redone  *ID
	content Content
	info    uint8
}

func newItem(id ID, left *Item, origin *ID, right *Item, rightOrigin *ID, parent *Branch, parentSub string, content Content) *Item {
	it := &Item{
		id:          id,
		length:      content.Len(),
		left:        left,
		right:       right,
		origin:      origin,
		rightOrigin: rightOrigin,
		parent:      parent,
		parentSub:   parentSub,
		content:     content,
	}
	if content.Countable() {
		it.info |= flagCountable
	}
	return it
}

func (it *Item) ID() ID           { return it.id }
func (it *Item) Len() uint64      { return it.length }
func (it *Item) Deleted() bool    { return it.deleted() }
func (it *Item) Content() Content { return it.content }

func (it *Item) deleted() bool   { return it.info&flagDeleted != 0 }
func (it *Item) countable() bool { return it.info&flagCountable != 0 }
func (it *Item) keep() bool      { return it.info&flagKeep != 0 }

func (it *Item) markDeleted() { it.info |= flagDeleted }

// lastID addresses the final clock of the span.
func (it *Item) lastID() ID {
	if it.length == 1 {
		return it.id
	}
	return ID{Client: it.id.Client, Clock: it.id.Clock + it.length - 1}
}

// parentBranch returns the owning container if it has been resolved.
func (it *Item) parentBranch() *Branch {
	return it.parent
}

// missing checks whether origin, rightOrigin or an ID-typed parent
// reference points past local known state. If everything is known it
// resolves left/right/parent in place and returns false.
func (it *Item) missing(txn *Transaction, store *StructStore) (uint64, bool) {
	if o := it.origin; o != nil && o.Client != it.id.Client && o.Clock >= store.State(o.Client) {
		return o.Client, true
	}
	if o := it.rightOrigin; o != nil && o.Client != it.id.Client && o.Clock >= store.State(o.Client) {
		return o.Client, true
	}
	if p := it.parentID; p != nil && p.Client != it.id.Client && p.Clock >= store.State(p.Client) {
		return p.Client, true
	}

	// Everything is known; materialize the references.
	if it.origin != nil {
		left := store.getItemCleanEnd(txn, *it.origin)
		if leftItem, ok := left.(*Item); ok {
			it.left = leftItem
			last := leftItem.lastID()
			it.origin = &last
		} else {
			it.parent = nil
			it.parentID = nil
			it.parentName = nil
			return 0, false
		}
	}
	if it.rightOrigin != nil {
		right := getItemCleanStart(txn, *it.rightOrigin)
		if rightItem, ok := right.(*Item); ok {
			it.right = rightItem
			it.rightOrigin = &rightItem.id
		} else {
			it.parent = nil
			it.parentID = nil
			it.parentName = nil
			return 0, false
		}
	}
	switch {
	case it.parent == nil && it.parentID == nil && it.parentName == nil:
		if it.left != nil {
			it.parent = it.left.parent
			it.parentSub = it.left.parentSub
		}
		if it.right != nil {
			it.parent = it.right.parent
			it.parentSub = it.right.parentSub
		}
	case it.parentID != nil:
		parentStruct := store.getItem(*it.parentID)
		it.parentID = nil
		if parentItem, ok := parentStruct.(*Item); ok {
			if ct, ok := parentItem.content.(*ContentType); ok {
				it.parent = ct.branch
			}
		}
	case it.parentName != nil:
		it.parent = txn.doc.Get(*it.parentName)
		it.parentName = nil
	}
	return 0, false
}

// Integrate places the item relative to its concurrent siblings: the
// causal-origin scan with client-id tie-break that every replica runs
// identically, so all replicas converge on the same order.
func (it *Item) Integrate(txn *Transaction, offset uint64) {
	store := txn.doc.store
	if offset > 0 {
		it.id.Clock += offset
		left := store.getItemCleanEnd(txn, ID{Client: it.id.Client, Clock: it.id.Clock - 1})
		if leftItem, ok := left.(*Item); ok {
			it.left = leftItem
			last := leftItem.lastID()
			it.origin = &last
		} else {
			it.left = nil
			it.origin = nil
		}
		it.content = it.content.Splice(offset)
		it.length -= offset
	}

	if it.parent == nil {
		// No live parent context: the whole span is garbage.
		(&GC{id: it.id, length: it.length}).Integrate(txn, 0)
		return
	}

	if (it.left == nil && (it.right == nil || it.right.left != nil)) ||
		(it.left != nil && it.left.right != it.right) {
		// left/right are not a consistent local chain; resolve them.
		left := it.left
		var o *Item
		if left != nil {
			o = left.right
		} else if it.parentSub != "" {
			o = it.parent.slots[it.parentSub]
			for o != nil && o.left != nil {
				o = o.left
			}
		} else {
			o = it.parent.start
		}
		conflictingItems := map[*Item]struct{}{}
		itemsBeforeOrigin := map[*Item]struct{}{}
		for o != nil && o != it.right {
			itemsBeforeOrigin[o] = struct{}{}
			conflictingItems[o] = struct{}{}
			if sameID(it.origin, o.origin) {
				// True concurrency at the same position: the lower
				// client id takes the left slot.
				if o.id.Client < it.id.Client {
					left = o
					conflictingItems = map[*Item]struct{}{}
				} else if sameID(it.rightOrigin, o.rightOrigin) {
					// Fully symmetric bracket; nothing to the right of
					// o can matter.
					break
				}
			} else if o.origin != nil {
				oOrigin, ok := store.getItem(*o.origin).(*Item)
				if ok {
					if _, before := itemsBeforeOrigin[oOrigin]; before {
						if _, conflict := conflictingItems[oOrigin]; !conflict {
							left = o
							conflictingItems = map[*Item]struct{}{}
						}
					} else {
						break
					}
				} else {
					break
				}
			} else {
				break
			}
			o = o.right
		}
		it.left = left
	}

	// Relink.
	if it.left != nil {
		it.right = it.left.right
		it.left.right = it
	} else {
		var r *Item
		if it.parentSub != "" {
			r = it.parent.slots[it.parentSub]
			for r != nil && r.left != nil {
				r = r.left
			}
		} else {
			r = it.parent.start
			it.parent.start = it
		}
		it.right = r
	}
	if it.right != nil {
		it.right.left = it
	} else if it.parentSub != "" {
		// This item is the new slot tip: the authoritative value.
		it.parent.setSlot(it.parentSub, it)
		if it.left != nil {
			it.left.delete(txn)
		}
	}

	if it.parentSub == "" && it.countable() && !it.deleted() {
		it.parent.length += it.length
		it.parent.invalidateMarker()
	}

	store.add(it)
	it.content.Integrate(txn, it)
	txn.addChangedType(it.parent, it.parentSub)

	if (it.parent.item != nil && it.parent.item.deleted()) ||
		(it.parentSub != "" && it.right != nil) {
		// The container is gone, or a newer slot value exists.
		it.delete(txn)
	}
}

// delete marks the item deleted, records the range in the transaction's
// delete set and detaches the payload's live effects.
func (it *Item) delete(txn *Transaction) {
	if it.deleted() {
		return
	}
	parent := it.parent
	if it.countable() && it.parentSub == "" && parent != nil {
		parent.length -= it.length
		parent.invalidateMarker()
	}
	it.markDeleted()
	txn.deleteSet.Add(it.id.Client, it.id.Clock, it.length)
	txn.addChangedType(parent, it.parentSub)
	it.content.Delete(txn)
}

// collect discards the payload. The struct itself survives so causal
// references stay resolvable: either downgraded in place to a tombstone
// payload, or (when the whole parent is collected) replaced by a GC span.
func (it *Item) collect(store *StructStore, parentCollected bool) {
	if !it.deleted() {
		panic("weft: collecting a live item")
	}
	it.content.Collect(store)
	if parentCollected {
		store.replace(it, &GC{id: it.id, length: it.length})
	} else {
		it.content = &ContentDeleted{length: it.length}
	}
}

// Merge folds the immediate successor right into the receiver when both
// halves still form the original contiguous run.
func (it *Item) Merge(right Struct) bool {
	rightItem, ok := right.(*Item)
	if !ok {
		return false
	}
	last := it.lastID()
	if !sameID(rightItem.origin, &last) ||
		it.right != rightItem ||
		!sameID(it.rightOrigin, rightItem.rightOrigin) ||
		it.id.Client != rightItem.id.Client ||
		it.id.Clock+it.length != rightItem.id.Clock ||
		it.deleted() != rightItem.deleted() ||
		it.redone != nil || rightItem.redone != nil ||
		!sameContentKind(it.content, rightItem.content) ||
		!it.content.MergeWith(rightItem.content) {
		return false
	}
	if rightItem.keep() {
		it.info |= flagKeep
	}
	it.right = rightItem.right
	if it.right != nil {
		it.right.left = it
	}
	it.length += rightItem.length
	return true
}

func sameContentKind(a, b Content) bool {
	return a.Ref() == b.Ref()
}

// Write encodes the item from offset onward. For a non-zero offset the
// origin is rewritten to the clock immediately before the slice.
func (it *Item) Write(enc UpdateEncoder, offset uint64) {
	origin := it.origin
	if offset > 0 {
		origin = &ID{Client: it.id.Client, Clock: it.id.Clock + offset - 1}
	}
	info := it.content.Ref() & 0x1f
	if origin != nil {
		info |= infoOrigin
	}
	if it.rightOrigin != nil {
		info |= infoRightOrigin
	}
	if it.parentSub != "" {
		info |= infoParentSub
	}
	enc.WriteInfo(info)
	if origin != nil {
		enc.WriteLeftID(*origin)
	}
	if it.rightOrigin != nil {
		enc.WriteRightID(*it.rightOrigin)
	}
	if origin == nil && it.rightOrigin == nil {
		switch {
		case it.parent != nil:
			if it.parent.item != nil {
				enc.WriteParentInfo(false)
				enc.WriteLeftID(it.parent.item.id)
			} else {
				enc.WriteParentInfo(true)
				enc.WriteString(it.parent.rootName)
			}
		case it.parentName != nil:
			enc.WriteParentInfo(true)
			enc.WriteString(*it.parentName)
		case it.parentID != nil:
			enc.WriteParentInfo(false)
			enc.WriteLeftID(*it.parentID)
		default:
			panic("weft: item without parent reference")
		}
		if it.parentSub != "" {
			enc.WriteString(it.parentSub)
		}
	}
	it.content.Write(enc, offset)
}

// splitItem materializes a split of left at diff clocks in, returning the
// new right-hand item. Neighbors are relinked and the new piece is queued
// for a merge attempt at transaction end.
func splitItem(txn *Transaction, left *Item, diff uint64) *Item {
	client, clock := left.id.Client, left.id.Clock
	originID := ID{Client: client, Clock: clock + diff - 1}
	right := newItem(
		ID{Client: client, Clock: clock + diff},
		left,
		&originID,
		left.right,
		left.rightOrigin,
		left.parent,
		left.parentSub,
		left.content.Splice(diff),
	)
	if left.deleted() {
		right.markDeleted()
	}
	if left.keep() {
		right.info |= flagKeep
	}
	if left.redone != nil {
		right.redone = &ID{Client: left.redone.Client, Clock: left.redone.Clock + diff}
	}
	left.right = right
	if right.right != nil {
		right.right.left = right
	}
	txn.mergeStructs = append(txn.mergeStructs, right)
	if right.parentSub != "" && right.right == nil {
		right.parent.setSlot(right.parentSub, right)
	}
	left.length = diff
	return right
}

// GC is a collected tombstone: the span survives for causal addressing,
// the payload is gone.
type GC struct {
	id     ID
	length uint64
}

func (g *GC) ID() ID        { return g.id }
func (g *GC) Len() uint64   { return g.length }
func (g *GC) Deleted() bool { return true }

func (g *GC) Merge(right Struct) bool {
	r, ok := right.(*GC)
	if !ok {
		return false
	}
	g.length += r.length
	return true
}

func (g *GC) Integrate(txn *Transaction, offset uint64) {
	if offset > 0 {
		g.id.Clock += offset
		g.length -= offset
	}
	txn.doc.store.add(g)
}

func (g *GC) missing(txn *Transaction, store *StructStore) (uint64, bool) {
	return 0, false
}

func (g *GC) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteInfo(refGC)
	enc.WriteLen(g.length - offset)
}

// Skip marks a causal gap in a just-decoded stream. It is consumed during
// decode and never integrated.
type Skip struct {
	id     ID
	length uint64
}

func (s *Skip) ID() ID        { return s.id }
func (s *Skip) Len() uint64   { return s.length }
func (s *Skip) Deleted() bool { return false }

func (s *Skip) Merge(right Struct) bool {
	r, ok := right.(*Skip)
	if !ok {
		return false
	}
	s.length += r.length
	return true
}

func (s *Skip) Integrate(txn *Transaction, offset uint64) {
	panic("weft: skip structs are never integrated")
}

func (s *Skip) missing(txn *Transaction, store *StructStore) (uint64, bool) {
	return 0, false
}

func (s *Skip) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteInfo(refSkip)
	// Skip lengths bypass the columnar length stream so a gap can be
	// rewritten without touching the compressed streams.
	enc.Rest().WriteVarUint(s.length - offset)
}
