package weft

import (
	"encoding/json"

	"github.com/weftlab/go-weft/wire"
)

// Content discriminants as they appear in the low five bits of a struct's
// info byte. The set is closed; decoding an unknown discriminant is fatal.
const (
	refGC      = 0
	refDeleted = 1
	refJSON    = 2
	refBinary  = 3
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
	refSkip    = 10
)

// Content is the payload of a live node. Implementations form a closed
// set, one per wire discriminant.
type Content interface {
	// Len is the number of clocks this content spans.
	Len() uint64
	// Countable reports whether the content contributes to the parent's
	// logical length.
	Countable() bool
	// Values materializes the content as one value per clock.
	Values() []any
	// Splice splits the content at offset, keeping the left part in the
	// receiver and returning the right part.
	Splice(offset uint64) Content
	// MergeWith appends right into the receiver if the two are
	// compatible, reporting success.
	MergeWith(right Content) bool
	// Integrate runs when the owning item enters the document.
	Integrate(txn *Transaction, item *Item)
	// Delete runs when the owning item is marked deleted.
	Delete(txn *Transaction)
	// Collect runs when the owning item's payload is discarded.
	Collect(store *StructStore)
	// Write encodes the content from offset onward.
	Write(enc UpdateEncoder, offset uint64)
	// Ref is the wire discriminant.
	Ref() uint8
}

// ContentDeleted is the payload of a tombstone: a length and nothing else.
type ContentDeleted struct {
	length uint64
}

func (c *ContentDeleted) Len() uint64     { return c.length }
func (c *ContentDeleted) Countable() bool { return false }
func (c *ContentDeleted) Values() []any   { return nil }

func (c *ContentDeleted) Splice(offset uint64) Content {
	right := &ContentDeleted{length: c.length - offset}
	c.length = offset
	return right
}

func (c *ContentDeleted) MergeWith(right Content) bool {
	c.length += right.(*ContentDeleted).length
	return true
}

func (c *ContentDeleted) Integrate(txn *Transaction, item *Item) {
	txn.deleteSet.Add(item.id.Client, item.id.Clock, c.length)
	item.markDeleted()
}

func (c *ContentDeleted) Delete(txn *Transaction)    {}
func (c *ContentDeleted) Collect(store *StructStore) {}
func (c *ContentDeleted) Ref() uint8                 { return refDeleted }
func (c *ContentDeleted) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteLen(c.length - offset)
}

// ContentJSON carries a batch of JSON-serialized values, one clock each.
type ContentJSON struct {
	values []any
}

func (c *ContentJSON) Len() uint64     { return uint64(len(c.values)) }
func (c *ContentJSON) Countable() bool { return true }
func (c *ContentJSON) Values() []any   { return c.values }

func (c *ContentJSON) Splice(offset uint64) Content {
	right := &ContentJSON{values: c.values[offset:]}
	c.values = c.values[:offset:offset]
	return right
}

func (c *ContentJSON) MergeWith(right Content) bool {
	c.values = append(c.values, right.(*ContentJSON).values...)
	return true
}

func (c *ContentJSON) Integrate(txn *Transaction, item *Item) {}
func (c *ContentJSON) Delete(txn *Transaction)                {}
func (c *ContentJSON) Collect(store *StructStore)             {}
func (c *ContentJSON) Ref() uint8                             { return refJSON }

func (c *ContentJSON) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteLen(uint64(len(c.values)) - offset)
	for _, v := range c.values[offset:] {
		if v == nil {
			enc.WriteString("undefined")
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			panic("weft: unmarshalable json content: " + err.Error())
		}
		enc.WriteString(string(b))
	}
}

func readContentJSON(dec UpdateDecoder) *ContentJSON {
	n := dec.ReadLen()
	values := make([]any, 0, n)
	for i := uint64(0); i < n; i++ {
		s := dec.ReadString()
		if s == "undefined" {
			values = append(values, nil)
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			badUpdate(err)
		}
		values = append(values, v)
	}
	return &ContentJSON{values: values}
}

// ContentBinary carries one opaque byte blob spanning a single clock.
type ContentBinary struct {
	data []byte
}

func (c *ContentBinary) Len() uint64     { return 1 }
func (c *ContentBinary) Countable() bool { return true }
func (c *ContentBinary) Values() []any   { return []any{c.data} }

func (c *ContentBinary) Splice(offset uint64) Content {
	panic("weft: cannot split binary content")
}

func (c *ContentBinary) MergeWith(right Content) bool           { return false }
func (c *ContentBinary) Integrate(txn *Transaction, item *Item) {}
func (c *ContentBinary) Delete(txn *Transaction)                {}
func (c *ContentBinary) Collect(store *StructStore)             {}
func (c *ContentBinary) Ref() uint8                             { return refBinary }

func (c *ContentBinary) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteBuf(c.data)
}

// ContentString carries a text run. Lengths and offsets count UTF-16 code
// units for wire compatibility.
type ContentString struct {
	str string
}

func (c *ContentString) Len() uint64     { return wire.Utf16Len(c.str) }
func (c *ContentString) Countable() bool { return true }

func (c *ContentString) Values() []any {
	out := make([]any, 0, len(c.str))
	for _, r := range c.str {
		out = append(out, string(r))
	}
	return out
}

func (c *ContentString) Splice(offset uint64) Content {
	left, right := wire.Utf16Split(c.str, offset)
	c.str = left
	return &ContentString{str: right}
}

func (c *ContentString) MergeWith(right Content) bool {
	c.str += right.(*ContentString).str
	return true
}

func (c *ContentString) Integrate(txn *Transaction, item *Item) {}
func (c *ContentString) Delete(txn *Transaction)                {}
func (c *ContentString) Collect(store *StructStore)             {}
func (c *ContentString) Ref() uint8                             { return refString }

func (c *ContentString) Write(enc UpdateEncoder, offset uint64) {
	if offset == 0 {
		enc.WriteString(c.str)
		return
	}
	_, rest := wire.Utf16Split(c.str, offset)
	enc.WriteString(rest)
}

// ContentEmbed carries one opaque embedded object.
type ContentEmbed struct {
	embed any
}

func (c *ContentEmbed) Len() uint64     { return 1 }
func (c *ContentEmbed) Countable() bool { return true }
func (c *ContentEmbed) Values() []any   { return []any{c.embed} }

func (c *ContentEmbed) Splice(offset uint64) Content {
	panic("weft: cannot split embed content")
}

func (c *ContentEmbed) MergeWith(right Content) bool           { return false }
func (c *ContentEmbed) Integrate(txn *Transaction, item *Item) {}
func (c *ContentEmbed) Delete(txn *Transaction)                {}
func (c *ContentEmbed) Collect(store *StructStore)             {}
func (c *ContentEmbed) Ref() uint8                             { return refEmbed }

func (c *ContentEmbed) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteJSON(c.embed)
}

// ContentFormat is a non-countable formatting marker: a key/value pair
// that scopes text attributes without occupying a list position.
type ContentFormat struct {
	key   string
	value any
}

func (c *ContentFormat) Len() uint64     { return 1 }
func (c *ContentFormat) Countable() bool { return false }
func (c *ContentFormat) Values() []any   { return nil }

func (c *ContentFormat) Splice(offset uint64) Content {
	panic("weft: cannot split format content")
}

func (c *ContentFormat) MergeWith(right Content) bool { return false }

func (c *ContentFormat) Integrate(txn *Transaction, item *Item) {
	// Formatting shifts logical positions, so any cached position index
	// on the parent is stale.
	if p := item.parentBranch(); p != nil {
		p.invalidateMarker()
		p.hasFormatting = true
	}
}

func (c *ContentFormat) Delete(txn *Transaction)    {}
func (c *ContentFormat) Collect(store *StructStore) {}
func (c *ContentFormat) Ref() uint8                 { return refFormat }

func (c *ContentFormat) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteKey(c.key)
	enc.WriteJSON(c.value)
}

// ContentType embeds a nested container.
type ContentType struct {
	branch *Branch
}

func (c *ContentType) Len() uint64     { return 1 }
func (c *ContentType) Countable() bool { return true }
func (c *ContentType) Values() []any   { return []any{c.branch} }

func (c *ContentType) Splice(offset uint64) Content {
	panic("weft: cannot split type content")
}

func (c *ContentType) MergeWith(right Content) bool { return false }

func (c *ContentType) Integrate(txn *Transaction, item *Item) {
	c.branch.integrate(txn.doc, item)
}

func (c *ContentType) Delete(txn *Transaction) {
	item := c.branch.start
	for item != nil {
		if !item.deleted() {
			item.delete(txn)
		} else {
			// This item is on the stage of another transaction's
			// cleanup; queue it for a merge attempt.
			txn.mergeStructs = append(txn.mergeStructs, item)
		}
		item = item.right
	}
	for _, item := range c.branch.slots {
		if !item.deleted() {
			item.delete(txn)
		} else {
			txn.mergeStructs = append(txn.mergeStructs, item)
		}
	}
	delete(txn.changed, c.branch)
}

func (c *ContentType) Collect(store *StructStore) {
	item := c.branch.start
	for item != nil {
		item.collect(store, true)
		item = item.right
	}
	c.branch.start = nil
	for _, item := range c.branch.slots {
		for item != nil {
			item.collect(store, true)
			item = item.left
		}
	}
	c.branch.slots = nil
}

func (c *ContentType) Ref() uint8 { return refType }

func (c *ContentType) Write(enc UpdateEncoder, offset uint64) {
	b := c.branch
	enc.WriteTypeRef(uint64(b.typeRef))
	if b.typeRef == TypeXmlElement || b.typeRef == TypeXmlHook {
		enc.WriteKey(b.embedName)
	}
}

func readContentType(dec UpdateDecoder) *ContentType {
	ref := dec.ReadTypeRef()
	if ref > TypeXmlText {
		badUpdate(ErrUnknownContent)
	}
	b := newBranch(uint8(ref))
	if ref == TypeXmlElement || ref == TypeXmlHook {
		b.embedName = dec.ReadKey()
	}
	return &ContentType{branch: b}
}

// ContentAny carries a batch of loosely typed values, one clock each.
type ContentAny struct {
	values []any
}

func (c *ContentAny) Len() uint64     { return uint64(len(c.values)) }
func (c *ContentAny) Countable() bool { return true }
func (c *ContentAny) Values() []any   { return c.values }

func (c *ContentAny) Splice(offset uint64) Content {
	right := &ContentAny{values: c.values[offset:]}
	c.values = c.values[:offset:offset]
	return right
}

func (c *ContentAny) MergeWith(right Content) bool {
	c.values = append(c.values, right.(*ContentAny).values...)
	return true
}

func (c *ContentAny) Integrate(txn *Transaction, item *Item) {}
func (c *ContentAny) Delete(txn *Transaction)                {}
func (c *ContentAny) Collect(store *StructStore)             {}
func (c *ContentAny) Ref() uint8                             { return refAny }

func (c *ContentAny) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteLen(uint64(len(c.values)) - offset)
	for _, v := range c.values[offset:] {
		enc.WriteAny(v)
	}
}

func readContentAny(dec UpdateDecoder) *ContentAny {
	n := dec.ReadLen()
	values := make([]any, 0, n)
	for i := uint64(0); i < n; i++ {
		values = append(values, dec.ReadAny())
	}
	return &ContentAny{values: values}
}

// ContentDoc embeds a nested subdocument reference.
type ContentDoc struct {
	doc  *Doc
	opts map[string]any
}

func newContentDoc(doc *Doc) *ContentDoc {
	if doc.item != nil {
		panic("weft: document is already embedded")
	}
	opts := map[string]any{}
	if !doc.gc {
		opts["gc"] = false
	}
	if doc.autoLoad {
		opts["autoLoad"] = true
	}
	if doc.meta != nil {
		opts["meta"] = doc.meta
	}
	return &ContentDoc{doc: doc, opts: opts}
}

func (c *ContentDoc) Len() uint64     { return 1 }
func (c *ContentDoc) Countable() bool { return true }
func (c *ContentDoc) Values() []any   { return []any{c.doc} }

func (c *ContentDoc) Splice(offset uint64) Content {
	panic("weft: cannot split doc content")
}

func (c *ContentDoc) MergeWith(right Content) bool { return false }

func (c *ContentDoc) Integrate(txn *Transaction, item *Item) {
	c.doc.item = item
	txn.subdocsAdded[c.doc] = struct{}{}
	if c.doc.shouldLoad {
		txn.subdocsLoaded[c.doc] = struct{}{}
	}
}

func (c *ContentDoc) Delete(txn *Transaction) {
	if _, ok := txn.subdocsAdded[c.doc]; ok {
		delete(txn.subdocsAdded, c.doc)
	} else {
		txn.subdocsRemoved[c.doc] = struct{}{}
	}
}

func (c *ContentDoc) Collect(store *StructStore) {}
func (c *ContentDoc) Ref() uint8                 { return refDoc }

func (c *ContentDoc) Write(enc UpdateEncoder, offset uint64) {
	enc.WriteString(c.doc.guid)
	enc.WriteAny(c.opts)
}

func readContentDoc(dec UpdateDecoder) *ContentDoc {
	guid := dec.ReadString()
	optsAny := dec.ReadAny()
	opts, _ := optsAny.(map[string]any)
	docOpts := []DocOption{WithGUID(guid)}
	if gc, ok := opts["gc"].(bool); ok && !gc {
		docOpts = append(docOpts, WithGC(false))
	}
	autoLoad, _ := opts["autoLoad"].(bool)
	if autoLoad {
		docOpts = append(docOpts, WithAutoLoad(true))
	}
	if meta, ok := opts["meta"]; ok {
		docOpts = append(docOpts, WithMeta(meta))
	}
	docOpts = append(docOpts, withShouldLoad(autoLoad))
	return &ContentDoc{doc: NewDoc(docOpts...), opts: opts}
}

// readItemContent decodes the content variant selected by the low five
// bits of the info byte.
func readItemContent(dec UpdateDecoder, info byte) Content {
	switch info & 0x1f {
	case refDeleted:
		return &ContentDeleted{length: dec.ReadLen()}
	case refJSON:
		return readContentJSON(dec)
	case refBinary:
		return &ContentBinary{data: dec.ReadBuf()}
	case refString:
		return &ContentString{str: dec.ReadString()}
	case refEmbed:
		return &ContentEmbed{embed: dec.ReadJSON()}
	case refFormat:
		return &ContentFormat{key: dec.ReadKey(), value: dec.ReadJSON()}
	case refType:
		return readContentType(dec)
	case refAny:
		return readContentAny(dec)
	case refDoc:
		return readContentDoc(dec)
	default:
		badUpdate(ErrUnknownContent)
		return nil
	}
}
