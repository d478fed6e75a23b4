package weft

// Container type discriminants carried by embedded containers on the
// wire. The engine does not interpret them; high-level APIs do.
const (
	TypeList        = 0
	TypeMap         = 1
	TypeText        = 2
	TypeXmlElement  = 3
	TypeXmlFragment = 4
	TypeXmlHook     = 5
	TypeXmlText     = 6
)

// Branch is the container primitive: a linked sequence of list-positioned
// items plus key slots for map-positioned items. Root branches hang off
// the document by name; nested branches travel inside ContentType.
type Branch struct {
	start  *Item
	slots  map[string]*Item
	length uint64

	// item is the node embedding this branch; nil for roots.
	item     *Item
	doc      *Doc
	rootName string

	typeRef   uint8
	embedName string

	// marker caches one list position; conservatively invalidated by
	// anything that can shift positions.
	marker        *posMarker
	hasFormatting bool

	observers     map[int]func(*Event)
	deepObservers map[int]func([]*Event)
	nextObserver  int
}

type posMarker struct {
	item  *Item
	index uint64
}

// NewBranch creates a detached container to embed into a document via
// InsertAt or SetKey.
func NewBranch(typeRef uint8) *Branch { return newBranch(typeRef) }

func newBranch(typeRef uint8) *Branch {
	return &Branch{
		slots:   map[string]*Item{},
		typeRef: typeRef,
	}
}

// Len returns the container's logical list length: the summed length of
// live countable list items.
func (b *Branch) Len() uint64 { return b.length }

// Doc returns the owning document, nil before first integration.
func (b *Branch) Doc() *Doc { return b.doc }

// TypeRef returns the container discriminant.
func (b *Branch) TypeRef() uint8 { return b.typeRef }

func (b *Branch) setSlot(key string, item *Item) {
	b.slots[key] = item
}

func (b *Branch) invalidateMarker() {
	b.marker = nil
}

// integrate attaches the branch to doc; item is the embedding node, nil
// for a root.
func (b *Branch) integrate(doc *Doc, item *Item) {
	b.doc = doc
	b.item = item
}

// Observe registers f to run after each transaction that changed this
// container. The returned function unregisters.
func (b *Branch) Observe(f func(*Event)) func() {
	if b.observers == nil {
		b.observers = map[int]func(*Event){}
	}
	id := b.nextObserver
	b.nextObserver++
	b.observers[id] = f
	return func() { delete(b.observers, id) }
}

// ObserveDeep registers f for changes to this container or any container
// nested below it. Events arrive filtered and sorted shallow-first.
func (b *Branch) ObserveDeep(f func([]*Event)) func() {
	if b.deepObservers == nil {
		b.deepObservers = map[int]func([]*Event){}
	}
	id := b.nextObserver
	b.nextObserver++
	b.deepObservers[id] = f
	return func() { delete(b.deepObservers, id) }
}

// InsertAt inserts values at the logical list index.
func (b *Branch) InsertAt(txn *Transaction, index uint64, values ...any) {
	if index > b.length {
		panic("weft: list index out of range")
	}
	if index == 0 {
		b.invalidateMarker()
		b.insertAfter(txn, nil, values)
		return
	}
	n := b.start
	for ; n != nil; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		if index <= n.length {
			if index < n.length {
				// Make the insertion point an exact item boundary.
				getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + index})
			}
			break
		}
		index -= n.length
	}
	b.invalidateMarker()
	b.insertAfter(txn, n, values)
}

// insertAfter packs values into content batches and integrates them to
// the right of ref (nil means the container head). Scalar runs coalesce
// into one loosely typed batch; blobs, nested containers and subdocument
// references get an item each.
func (b *Branch) insertAfter(txn *Transaction, ref *Item, values []any) {
	left := ref
	doc := txn.doc
	var right *Item
	if ref == nil {
		right = b.start
	} else {
		right = ref.right
	}
	var batch []any
	flush := func(content Content) {
		var originPtr, rightOriginPtr *ID
		if left != nil {
			last := left.lastID()
			originPtr = &last
		}
		if right != nil {
			rightOriginPtr = &right.id
		}
		id := ID{Client: doc.clientID, Clock: doc.store.State(doc.clientID)}
		item := newItem(id, left, originPtr, right, rightOriginPtr, b, "", content)
		item.Integrate(txn, 0)
		left = item
	}
	flushBatch := func() {
		if len(batch) > 0 {
			flush(&ContentAny{values: batch})
			batch = nil
		}
	}
	for _, v := range values {
		switch x := v.(type) {
		case []byte:
			flushBatch()
			flush(&ContentBinary{data: x})
		case *Branch:
			flushBatch()
			flush(&ContentType{branch: x})
		case *Doc:
			flushBatch()
			flush(newContentDoc(x))
		default:
			batch = append(batch, v)
		}
	}
	flushBatch()
}

// Delete removes length elements starting at the logical list index.
func (b *Branch) Delete(txn *Transaction, index, length uint64) {
	if length == 0 {
		return
	}
	n := b.start
	for ; n != nil && index > 0; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		if index < n.length {
			getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + index})
		}
		index -= n.length
	}
	for length > 0 && n != nil {
		if !n.deleted() && n.countable() {
			if length < n.length {
				getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + length})
			}
			n.delete(txn)
			length -= n.length
		}
		n = n.right
	}
	if length > 0 {
		panic("weft: list delete past end")
	}
	b.invalidateMarker()
}

// SetKey makes value the authoritative entry for key.
func (b *Branch) SetKey(txn *Transaction, key string, value any) {
	if key == "" {
		panic("weft: empty map key")
	}
	doc := txn.doc
	left := b.slots[key]
	var originPtr *ID
	if left != nil {
		last := left.lastID()
		originPtr = &last
	}
	var content Content
	switch x := value.(type) {
	case []byte:
		content = &ContentBinary{data: x}
	case *Branch:
		content = &ContentType{branch: x}
	case *Doc:
		content = newContentDoc(x)
	default:
		content = &ContentAny{values: []any{value}}
	}
	id := ID{Client: doc.clientID, Clock: doc.store.State(doc.clientID)}
	newItem(id, left, originPtr, nil, nil, b, key, content).Integrate(txn, 0)
}

// DeleteKey removes the entry for key if present.
func (b *Branch) DeleteKey(txn *Transaction, key string) {
	if item := b.slots[key]; item != nil {
		item.delete(txn)
	}
}

// GetKey returns the current value for key.
func (b *Branch) GetKey(key string) (any, bool) {
	item := b.slots[key]
	if item == nil || item.deleted() {
		return nil, false
	}
	values := item.content.Values()
	if len(values) == 0 {
		return nil, false
	}
	return values[len(values)-1], true
}

// Keys returns the live map entries.
func (b *Branch) Keys() map[string]any {
	out := map[string]any{}
	for key := range b.slots {
		if v, ok := b.GetKey(key); ok {
			out[key] = v
		}
	}
	return out
}

// InsertText inserts text at the logical index as a single text run.
func (b *Branch) InsertText(txn *Transaction, index uint64, text string) {
	if text == "" {
		return
	}
	if index > b.length {
		panic("weft: text index out of range")
	}
	ref, right := b.findTextPos(txn, index)
	doc := txn.doc
	var originPtr, rightOriginPtr *ID
	if ref != nil {
		last := ref.lastID()
		originPtr = &last
	}
	if right != nil {
		rightOriginPtr = &right.id
	}
	id := ID{Client: doc.clientID, Clock: doc.store.State(doc.clientID)}
	item := newItem(id, ref, originPtr, right, rightOriginPtr, b, "", &ContentString{str: text})
	item.Integrate(txn, 0)
	b.invalidateMarker()
}

// Format brackets [index, index+length) with a pair of formatting
// markers carrying key/value. Markers are non-countable: they scope
// attributes without occupying positions.
func (b *Branch) Format(txn *Transaction, index, length uint64, key string, value any) {
	if index+length > b.length {
		panic("weft: format range out of range")
	}
	openRef, openRight := b.findTextPos(txn, index)
	b.insertMarker(txn, openRef, openRight, key, value)
	closeRef, closeRight := b.findTextPos(txn, index+length)
	b.insertMarker(txn, closeRef, closeRight, key, nil)
	b.invalidateMarker()
}

func (b *Branch) insertMarker(txn *Transaction, ref, right *Item, key string, value any) {
	doc := txn.doc
	var originPtr, rightOriginPtr *ID
	if ref != nil {
		last := ref.lastID()
		originPtr = &last
	}
	if right != nil {
		rightOriginPtr = &right.id
	}
	id := ID{Client: doc.clientID, Clock: doc.store.State(doc.clientID)}
	newItem(id, ref, originPtr, right, rightOriginPtr, b, "", &ContentFormat{key: key, value: value}).Integrate(txn, 0)
}

// findTextPos walks to the logical index, splitting a run when the index
// falls inside it, and returns the (left, right) insertion neighbors.
func (b *Branch) findTextPos(txn *Transaction, index uint64) (*Item, *Item) {
	var left *Item
	n := b.start
	for n != nil && index > 0 {
		if !n.deleted() && n.countable() {
			if index < n.length {
				getItemCleanStart(txn, ID{Client: n.id.Client, Clock: n.id.Clock + index})
			}
			index -= n.length
			left = n
		}
		n = n.right
	}
	if left != nil {
		return left, left.right
	}
	return nil, b.start
}

// Text materializes the concatenated live text runs.
func (b *Branch) Text() string {
	var out []byte
	for n := b.start; n != nil; n = n.right {
		if n.deleted() {
			continue
		}
		if cs, ok := n.content.(*ContentString); ok {
			out = append(out, cs.str...)
		}
	}
	return string(out)
}

// Slice materializes the live list content, one value per clock.
func (b *Branch) Slice() []any {
	var out []any
	for n := b.start; n != nil; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		out = append(out, n.content.Values()...)
	}
	return out
}
