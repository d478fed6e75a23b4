package weft

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// Doc is a collaborative document: a struct store, a set of named root
// containers and the transaction machinery binding them together.
type Doc struct {
	clientID     uint64
	guid         string
	collectionID string

	gc       bool
	gcFilter func(*Item) bool

	store *StructStore
	share map[string]*Branch

	transaction         *Transaction
	transactionCleanups []*Transaction

	// item is the embedding node when this document is a subdocument.
	item       *Item
	subdocs    map[*Doc]struct{}
	shouldLoad bool
	autoLoad   bool
	loaded     bool
	meta       any

	logger *slog.Logger

	updateHandlers         map[int]func(update []byte, origin any, txn *Transaction)
	updateV2Handlers       map[int]func(update []byte, origin any, txn *Transaction)
	beforeObserverHandlers map[int]func(*Transaction)
	afterTxnHandlers       map[int]func(*Transaction)
	afterAllTxnHandlers    map[int]func([]*Transaction)
	subdocsHandlers        map[int]func(*SubdocsEvent, *Transaction)
	destroyHandlers        map[int]func()
	nextHandler         int
}

// SubdocsEvent reports subdocument membership changes of one
// transaction.
type SubdocsEvent struct {
	Added   []*Doc
	Removed []*Doc
	Loaded  []*Doc
}

// DocOption configures a Doc at construction.
type DocOption func(*Doc)

// WithClientID fixes the client id instead of generating a random one.
func WithClientID(id uint64) DocOption { return func(d *Doc) { d.clientID = id } }

// WithGUID fixes the globally unique document id, used to address
// subdocuments. Defaults to a fresh ULID.
func WithGUID(guid string) DocOption { return func(d *Doc) { d.guid = guid } }

// WithCollectionID tags the document with a collection name, inherited
// by subdocuments that do not set their own.
func WithCollectionID(id string) DocOption { return func(d *Doc) { d.collectionID = id } }

// WithGC toggles garbage collection of deleted content. On by default.
func WithGC(gc bool) DocOption { return func(d *Doc) { d.gc = gc } }

// WithGCFilter restricts garbage collection to items the filter accepts.
func WithGCFilter(f func(*Item) bool) DocOption { return func(d *Doc) { d.gcFilter = f } }

// WithAutoLoad marks a subdocument to be loaded eagerly by peers.
func WithAutoLoad(autoLoad bool) DocOption { return func(d *Doc) { d.autoLoad = autoLoad } }

// WithMeta attaches application metadata, replicated alongside subdoc
// references.
func WithMeta(meta any) DocOption { return func(d *Doc) { d.meta = meta } }

// WithLogger routes diagnostics to the given logger.
func WithLogger(l *slog.Logger) DocOption { return func(d *Doc) { d.logger = l } }

func withShouldLoad(shouldLoad bool) DocOption {
	return func(d *Doc) { d.shouldLoad = shouldLoad }
}

// NewDoc creates an empty document.
func NewDoc(opts ...DocOption) *Doc {
	d := &Doc{
		clientID:   newClientID(),
		gc:         true,
		store:      newStructStore(),
		share:      map[string]*Branch{},
		subdocs:    map[*Doc]struct{}{},
		shouldLoad: true,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.guid == "" {
		d.guid = ulid.Make().String()
	}
	return d
}

// ClientID returns the id under which local writes are clocked.
func (d *Doc) ClientID() uint64 { return d.clientID }

// GUID returns the globally unique document id.
func (d *Doc) GUID() string { return d.guid }

// CollectionID returns the collection tag, possibly empty.
func (d *Doc) CollectionID() string { return d.collectionID }

// Meta returns the metadata attached with WithMeta.
func (d *Doc) Meta() any { return d.meta }

// Loaded reports whether a subdocument's content has been requested.
func (d *Doc) Loaded() bool { return d.loaded }

// Get returns the root container registered under name, creating it on
// first use.
func (d *Doc) Get(name string) *Branch {
	if b, ok := d.share[name]; ok {
		return b
	}
	b := newBranch(TypeList)
	b.rootName = name
	b.integrate(d, nil)
	d.share[name] = b
	return b
}

// Roots returns the named root containers.
func (d *Doc) Roots() map[string]*Branch { return d.share }

// Transact runs f in a transaction; nested calls join the outer one.
// Cleanup, observer delivery and update emission happen when the
// outermost call returns.
func (d *Doc) Transact(f func(*Transaction)) {
	d.transact(f, nil, true)
}

// TransactWithOrigin is Transact with an origin tag that update and
// observer callbacks can inspect.
func (d *Doc) TransactWithOrigin(origin any, f func(*Transaction)) {
	d.transact(f, origin, true)
}

// Load requests the content of a subdocument. On a top-level document it
// is a no-op beyond marking the document loaded.
func (d *Doc) Load() {
	if item := d.item; item != nil && !d.loaded {
		parent := item.parent.doc
		parent.transact(func(txn *Transaction) {
			txn.subdocsLoaded[d] = struct{}{}
		}, nil, true)
	}
	d.shouldLoad = true
}

// Subdocs returns the currently referenced subdocuments.
func (d *Doc) Subdocs() []*Doc {
	return docSet(d.subdocs)
}

// SubdocGUIDs returns the set of referenced subdocument guids.
func (d *Doc) SubdocGUIDs() map[string]struct{} {
	guids := make(map[string]struct{}, len(d.subdocs))
	for sub := range d.subdocs {
		guids[sub.guid] = struct{}{}
	}
	return guids
}

// Destroy tears the document down. A destroyed subdocument is replaced
// in its embedding item by an unloaded stub so the reference survives.
func (d *Doc) Destroy() {
	for sub := range d.subdocs {
		sub.Destroy()
	}
	if item := d.item; item != nil {
		d.item = nil
		if c, ok := item.content.(*ContentDoc); ok {
			repl := NewDoc(WithGUID(d.guid), WithGC(d.gc), WithAutoLoad(d.autoLoad),
				WithMeta(d.meta), withShouldLoad(false))
			repl.item = item
			c.doc = repl
		}
	}
	for _, f := range d.destroyHandlers {
		f()
	}
	d.updateHandlers = nil
	d.updateV2Handlers = nil
	d.beforeObserverHandlers = nil
	d.afterTxnHandlers = nil
	d.afterAllTxnHandlers = nil
	d.subdocsHandlers = nil
	d.destroyHandlers = nil
}

func (d *Doc) handlerID() int {
	id := d.nextHandler
	d.nextHandler++
	return id
}

// OnUpdate registers f to receive the plain-format update produced by
// each transaction that changed the document. The returned function
// unregisters.
func (d *Doc) OnUpdate(f func(update []byte, origin any, txn *Transaction)) func() {
	if d.updateHandlers == nil {
		d.updateHandlers = map[int]func([]byte, any, *Transaction){}
	}
	id := d.handlerID()
	d.updateHandlers[id] = f
	return func() { delete(d.updateHandlers, id) }
}

// OnUpdateV2 is OnUpdate for the columnar format.
func (d *Doc) OnUpdateV2(f func(update []byte, origin any, txn *Transaction)) func() {
	if d.updateV2Handlers == nil {
		d.updateV2Handlers = map[int]func([]byte, any, *Transaction){}
	}
	id := d.handlerID()
	d.updateV2Handlers[id] = f
	return func() { delete(d.updateV2Handlers, id) }
}

// OnBeforeObserverCalls registers f to run after the transaction's
// delete set is normalized but before any container observers fire.
func (d *Doc) OnBeforeObserverCalls(f func(*Transaction)) func() {
	if d.beforeObserverHandlers == nil {
		d.beforeObserverHandlers = map[int]func(*Transaction){}
	}
	id := d.handlerID()
	d.beforeObserverHandlers[id] = f
	return func() { delete(d.beforeObserverHandlers, id) }
}

// OnAfterTransaction registers f to run in the observer phase of each
// transaction cleanup.
func (d *Doc) OnAfterTransaction(f func(*Transaction)) func() {
	if d.afterTxnHandlers == nil {
		d.afterTxnHandlers = map[int]func(*Transaction){}
	}
	id := d.handlerID()
	d.afterTxnHandlers[id] = f
	return func() { delete(d.afterTxnHandlers, id) }
}

// OnAfterAllTransactions registers f to run once the whole cleanup queue
// has drained.
func (d *Doc) OnAfterAllTransactions(f func([]*Transaction)) func() {
	if d.afterAllTxnHandlers == nil {
		d.afterAllTxnHandlers = map[int]func([]*Transaction){}
	}
	id := d.handlerID()
	d.afterAllTxnHandlers[id] = f
	return func() { delete(d.afterAllTxnHandlers, id) }
}

// OnSubdocs registers f for subdocument membership changes.
func (d *Doc) OnSubdocs(f func(*SubdocsEvent, *Transaction)) func() {
	if d.subdocsHandlers == nil {
		d.subdocsHandlers = map[int]func(*SubdocsEvent, *Transaction){}
	}
	id := d.handlerID()
	d.subdocsHandlers[id] = f
	return func() { delete(d.subdocsHandlers, id) }
}

// OnDestroy registers f to run when the document is destroyed.
func (d *Doc) OnDestroy(f func()) func() {
	if d.destroyHandlers == nil {
		d.destroyHandlers = map[int]func(){}
	}
	id := d.handlerID()
	d.destroyHandlers[id] = f
	return func() { delete(d.destroyHandlers, id) }
}

func (d *Doc) emitBeforeObserverCalls(txn *Transaction) {
	for _, f := range d.beforeObserverHandlers {
		f(txn)
	}
}

func (d *Doc) emitAfterTransaction(txn *Transaction) {
	for _, f := range d.afterTxnHandlers {
		f(txn)
	}
}

func (d *Doc) emitAfterAllTransactions(txns []*Transaction) {
	for _, f := range d.afterAllTxnHandlers {
		f(txns)
	}
}

func (d *Doc) emitSubdocs(e *SubdocsEvent, txn *Transaction) {
	for sub := range txn.subdocsLoaded {
		sub.loaded = true
	}
	for _, f := range d.subdocsHandlers {
		f(e, txn)
	}
}

func (d *Doc) emitUpdates(txn *Transaction) {
	if len(d.updateHandlers) > 0 {
		enc := newUpdateEncoderV1()
		if writeUpdateMessageFromTransaction(enc, txn) {
			update := enc.Bytes()
			for _, f := range d.updateHandlers {
				f(update, txn.origin, txn)
			}
		}
	}
	if len(d.updateV2Handlers) > 0 {
		enc := newUpdateEncoderV2()
		if writeUpdateMessageFromTransaction(enc, txn) {
			update := enc.Bytes()
			for _, f := range d.updateV2Handlers {
				f(update, txn.origin, txn)
			}
		}
	}
}
