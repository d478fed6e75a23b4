package weft

// Transaction batches a set of mutations on a document. Every write goes
// through one; readers may use one to observe a consistent snapshot of
// the struct store. Cleanup runs when the outermost transact call
// returns: the delete set is normalized, observers fire, adjacent
// structs are re-merged and deleted content is garbage collected.
type Transaction struct {
	doc       *Doc
	deleteSet *DeleteSet

	// beforeState holds the state vector at transaction start;
	// afterState is filled in during cleanup.
	beforeState StateVector
	afterState  StateVector

	// changed maps each modified shared type to the set of changed key
	// slots; the empty string stands for the list positions.
	changed map[*Branch]map[string]struct{}

	// changedParentTypes collects events for every ancestor of a changed
	// type, for the deep observers.
	changedParentTypes map[*Branch][]*Event

	// mergeStructs are split products to retry merging during cleanup.
	mergeStructs []Struct

	origin any
	local  bool

	subdocsAdded   map[*Doc]struct{}
	subdocsRemoved map[*Doc]struct{}
	subdocsLoaded  map[*Doc]struct{}
}

func newTransaction(doc *Doc, origin any, local bool) *Transaction {
	return &Transaction{
		doc:                doc,
		deleteSet:          newDeleteSet(),
		beforeState:        doc.store.StateVector(),
		afterState:         StateVector{},
		changed:            map[*Branch]map[string]struct{}{},
		changedParentTypes: map[*Branch][]*Event{},
		origin:             origin,
		local:              local,
		subdocsAdded:       map[*Doc]struct{}{},
		subdocsRemoved:     map[*Doc]struct{}{},
		subdocsLoaded:      map[*Doc]struct{}{},
	}
}

// Doc returns the document this transaction mutates.
func (txn *Transaction) Doc() *Doc { return txn.doc }

// Origin returns the value passed to TransactWithOrigin, or nil.
func (txn *Transaction) Origin() any { return txn.origin }

// Local reports whether the transaction was initiated by this document
// rather than by applying a remote update.
func (txn *Transaction) Local() bool { return txn.local }

// addChangedType records that parent changed under parentSub, but only
// if parent itself existed before this transaction started. Types
// created inside the transaction have no observers to notify yet.
func (txn *Transaction) addChangedType(parent *Branch, parentSub string) {
	item := parent.item
	if item == nil || (item.id.Clock < txn.beforeState[item.id.Client] && !item.deleted()) {
		subs, ok := txn.changed[parent]
		if !ok {
			subs = map[string]struct{}{}
			txn.changed[parent] = subs
		}
		subs[parentSub] = struct{}{}
	}
}

func (d *Doc) transact(f func(*Transaction), origin any, local bool) {
	initialCall := false
	if d.transaction == nil {
		initialCall = true
		d.transaction = newTransaction(d, origin, local)
		d.transactionCleanups = append(d.transactionCleanups, d.transaction)
	}
	defer func() {
		if initialCall {
			finish := d.transaction == d.transactionCleanups[0]
			d.transaction = nil
			if finish {
				cleanupTransactions(d.transactionCleanups, 0)
			}
		}
	}()
	f(d.transaction)
}

// callAll invokes every function, recovering panics so that one failing
// observer cannot starve the rest. The first panic is re-raised after
// all functions ran.
func callAll(fs []func()) {
	var first any
	for _, f := range fs {
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			f()
		}()
	}
	if first != nil {
		panic(first)
	}
}

func cleanupTransactions(cleanups []*Transaction, i int) {
	txn := cleanups[i]
	doc := txn.doc
	store := doc.store

	defer func() {
		// Everything below must run even if an observer panicked.
		finalizeTransaction(txn)
		if len(doc.transactionCleanups) <= i+1 {
			doc.transactionCleanups = nil
			doc.emitAfterAllTransactions(cleanups)
		} else {
			cleanupTransactions(doc.transactionCleanups, i+1)
		}
	}()

	txn.deleteSet.SortAndMerge()
	txn.afterState = store.StateVector()

	fs := make([]func(), 0, len(txn.changed)+len(txn.changedParentTypes)+2)
	fs = append(fs, func() { doc.emitBeforeObserverCalls(txn) })
	for branch, subs := range txn.changed {
		branch, subs := branch, subs
		fs = append(fs, func() {
			if branch.item == nil || !branch.item.deleted() {
				branch.callObservers(txn, subs)
			}
		})
	}
	fs = append(fs, func() {
		for branch, events := range txn.changedParentTypes {
			branch, events := branch, events
			if branch.item == nil || !branch.item.deleted() {
				branch.callDeepObservers(txn, events)
			}
		}
	})
	fs = append(fs, func() { doc.emitAfterTransaction(txn) })
	callAll(fs)
}

// finalizeTransaction runs the storage side of cleanup: garbage
// collection, struct re-merging, client id rotation on external writes
// under our own id, update emission and subdocument reconciliation.
func finalizeTransaction(txn *Transaction) {
	doc := txn.doc
	store := doc.store

	if doc.gc {
		tryGcDeleteSet(txn.deleteSet, store, doc.gcFilter)
	}
	tryMergeDeleteSet(txn.deleteSet, store)

	// Merge freshly written structs into their left neighbors,
	// right to left so indexes stay valid across splices.
	for client, clock := range txn.afterState {
		if txn.beforeState[client] == clock {
			continue
		}
		structs := store.clients[client]
		firstChangePos := max(findIndex(structs, txn.beforeState[client]), 1)
		for i := len(structs) - 1; i >= firstChangePos; {
			var merged int
			structs, merged = tryToMergeWithLefts(structs, i)
			i -= 1 + merged
		}
		store.clients[client] = structs
	}

	// Retry merging around structs that were split during this
	// transaction.
	for _, st := range txn.mergeStructs {
		client, clock := st.ID().Client, st.ID().Clock
		structs := store.clients[client]
		pos := findIndex(structs, clock)
		if pos+1 < len(structs) {
			var merged int
			structs, merged = tryToMergeWithLefts(structs, pos+1)
			if merged > 1 {
				store.clients[client] = structs
				continue
			}
		}
		if pos > 0 {
			structs, _ = tryToMergeWithLefts(structs, pos)
		}
		store.clients[client] = structs
	}

	if !txn.local && txn.afterState[doc.clientID] != txn.beforeState[doc.clientID] {
		doc.logger.Warn("remote update advanced own client id, rotating",
			"client", doc.clientID)
		doc.clientID = newClientID()
	}

	doc.emitUpdates(txn)
	reconcileSubdocs(txn)
}

func reconcileSubdocs(txn *Transaction) {
	doc := txn.doc
	if len(txn.subdocsAdded) == 0 && len(txn.subdocsRemoved) == 0 && len(txn.subdocsLoaded) == 0 {
		return
	}
	for sub := range txn.subdocsAdded {
		sub.clientID = doc.clientID
		if sub.collectionID == "" {
			sub.collectionID = doc.collectionID
		}
		doc.subdocs[sub] = struct{}{}
	}
	for sub := range txn.subdocsRemoved {
		delete(doc.subdocs, sub)
	}
	doc.emitSubdocs(&SubdocsEvent{
		Added:   docSet(txn.subdocsAdded),
		Removed: docSet(txn.subdocsRemoved),
		Loaded:  docSet(txn.subdocsLoaded),
	}, txn)
	for sub := range txn.subdocsRemoved {
		sub.Destroy()
	}
}

func docSet(m map[*Doc]struct{}) []*Doc {
	out := make([]*Doc, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	return out
}

// tryToMergeWithLefts folds structs[pos] into its left neighbor, and on
// success keeps folding leftwards. Returns the spliced slice and the
// number of structs removed.
func tryToMergeWithLefts(structs []Struct, pos int) ([]Struct, int) {
	i := pos
	for ; i > 0; i-- {
		left := structs[i-1]
		right := structs[i]
		if left.Deleted() != right.Deleted() || !left.Merge(right) {
			break
		}
		if it, ok := right.(*Item); ok && it.parentSub != "" {
			if lit, lok := left.(*Item); lok && it.parent != nil && it.parent.slots[it.parentSub] == it {
				it.parent.slots[it.parentSub] = lit
			}
		}
	}
	merged := pos - i
	if merged > 0 {
		structs = append(structs[:i+1], structs[pos+1:]...)
	}
	return structs, merged
}

// tryGcDeleteSet replaces deleted items covered by ds with GC tombstones,
// freeing their content. Items marked keep, and items rejected by
// filter, survive.
func tryGcDeleteSet(ds *DeleteSet, store *StructStore, filter func(*Item) bool) {
	for client, ranges := range ds.clients {
		structs := store.clients[client]
		for di := len(ranges) - 1; di >= 0; di-- {
			r := ranges[di]
			end := r.clock + r.length
			for si := findIndex(structs, r.clock); si < len(structs); si++ {
				st := structs[si]
				if st.ID().Clock >= end {
					break
				}
				if it, ok := st.(*Item); ok && it.deleted() && !it.keep() && (filter == nil || filter(it)) {
					it.collect(store, false)
				}
				structs = store.clients[client]
			}
		}
	}
}

// tryMergeDeleteSet merges adjacent deleted structs covered by ds.
func tryMergeDeleteSet(ds *DeleteSet, store *StructStore) {
	for client, ranges := range ds.clients {
		structs := store.clients[client]
		for di := len(ranges) - 1; di >= 0; di-- {
			r := ranges[di]
			si := min(len(structs)-1, 1+findIndex(structs, r.clock+r.length-1))
			for si > 0 && structs[si].ID().Clock >= r.clock {
				var merged int
				structs, merged = tryToMergeWithLefts(structs, si)
				si -= 1 + merged
			}
		}
		store.clients[client] = structs
	}
}
