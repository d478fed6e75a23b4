package weft

import (
	"fmt"
	"sort"

	"github.com/weftlab/go-weft/wire"
)

// lazyStructReader streams structs out of an encoded update without
// integrating them. Optionally filters out skips.
type lazyStructReader struct {
	dec         UpdateDecoder
	filterSkips bool

	clientsLeft uint64
	structsLeft uint64
	client      uint64
	clock       uint64

	curr Struct
}

func newLazyStructReader(dec UpdateDecoder, filterSkips bool) *lazyStructReader {
	r := &lazyStructReader{dec: dec, filterSkips: filterSkips}
	r.clientsLeft = dec.Rest().ReadVarUint()
	r.next()
	return r
}

// next advances to the following struct, nil at end of stream.
func (r *lazyStructReader) next() Struct {
	for {
		r.curr = r.read()
		if r.curr == nil {
			return nil
		}
		if _, isSkip := r.curr.(*Skip); isSkip && r.filterSkips {
			continue
		}
		return r.curr
	}
}

func (r *lazyStructReader) read() Struct {
	for r.structsLeft == 0 {
		if r.clientsLeft == 0 {
			return nil
		}
		r.clientsLeft--
		r.structsLeft = r.dec.Rest().ReadVarUint()
		r.client = r.dec.ReadClient()
		r.clock = r.dec.Rest().ReadVarUint()
	}
	r.structsLeft--
	info := r.dec.ReadInfo()
	id := ID{Client: r.client, Clock: r.clock}
	switch {
	case info == refSkip:
		length := r.dec.Rest().ReadVarUint()
		r.clock += length
		return &Skip{id: id, length: length}
	case info&0x1f == refGC:
		length := r.dec.ReadLen()
		r.clock += length
		return &GC{id: id, length: length}
	default:
		item := &Item{id: id}
		if info&infoOrigin != 0 {
			origin := r.dec.ReadLeftID()
			item.origin = &origin
		}
		if info&infoRightOrigin != 0 {
			rightOrigin := r.dec.ReadRightID()
			item.rightOrigin = &rightOrigin
		}
		if info&(infoOrigin|infoRightOrigin) == 0 {
			if r.dec.ReadParentInfo() {
				name := r.dec.ReadString()
				item.parentName = &name
			} else {
				parentID := r.dec.ReadLeftID()
				item.parentID = &parentID
			}
			if info&infoParentSub != 0 {
				item.parentSub = r.dec.ReadString()
			}
		}
		item.content = readItemContent(r.dec, info)
		if item.content.Countable() {
			item.info |= flagCountable
		}
		item.length = item.content.Len()
		r.clock += item.length
		return item
	}
}

// lazyStructWriter assembles an update struct section client run by
// client run. Struct bytes are buffered per run and stitched together,
// with counts, on finish.
type lazyStructWriter struct {
	enc        UpdateEncoder
	currClient uint64
	written    uint64

	runs []structRun
}

type structRun struct {
	written uint64
	bytes   []byte
}

func newLazyStructWriter(enc UpdateEncoder) *lazyStructWriter {
	return &lazyStructWriter{enc: enc}
}

func (w *lazyStructWriter) flush() {
	if w.written > 0 {
		w.runs = append(w.runs, structRun{written: w.written, bytes: w.enc.Rest().Bytes()})
		w.enc.SetRest(wire.NewEncoder())
		w.written = 0
	}
}

func (w *lazyStructWriter) write(st Struct, offset uint64) {
	if w.written > 0 && w.currClient != st.ID().Client {
		w.flush()
	}
	if w.written == 0 {
		w.currClient = st.ID().Client
		w.enc.WriteClient(st.ID().Client)
		w.enc.Rest().WriteVarUint(st.ID().Clock + offset)
	}
	st.Write(w.enc, offset)
	w.written++
}

// finish prepends the client count and per-run struct counts, restoring
// the encoder's rest stream to the assembled struct section.
func (w *lazyStructWriter) finish() {
	w.flush()
	rest := wire.NewEncoder()
	rest.WriteVarUint(uint64(len(w.runs)))
	for _, run := range w.runs {
		rest.WriteVarUint(run.written)
		rest.WriteBytes(run.bytes)
	}
	w.enc.SetRest(rest)
}

// sliceStruct returns the tail of st starting diff clocks in.
func sliceStruct(st Struct, diff uint64) Struct {
	switch s := st.(type) {
	case *GC:
		return &GC{id: ID{Client: s.id.Client, Clock: s.id.Clock + diff}, length: s.length - diff}
	case *Skip:
		return &Skip{id: ID{Client: s.id.Client, Clock: s.id.Clock + diff}, length: s.length - diff}
	case *Item:
		origin := ID{Client: s.id.Client, Clock: s.id.Clock + diff - 1}
		item := &Item{
			id:          ID{Client: s.id.Client, Clock: s.id.Clock + diff},
			origin:      &origin,
			rightOrigin: s.rightOrigin,
			parent:      s.parent,
			parentID:    s.parentID,
			parentName:  s.parentName,
			parentSub:   s.parentSub,
			content:     s.content.Splice(diff),
		}
		item.length = item.content.Len()
		if item.content.Countable() {
			item.info |= flagCountable
		}
		return item
	}
	panic("weft: unknown struct kind")
}

type currWrite struct {
	st     Struct
	offset uint64
}

// mergeUpdates combines updates into one equivalent update without
// building a document. Overlaps are deduplicated; causal gaps between
// runs of one client are bridged with skips so the result stays a valid
// single update.
func mergeUpdates(updates [][]byte, v2 bool) []byte {
	if len(updates) == 1 {
		return updates[0]
	}
	decoders := make([]UpdateDecoder, len(updates))
	readers := make([]*lazyStructReader, 0, len(updates))
	for i, update := range updates {
		decoders[i] = newUpdateDecoder(update, v2)
		readers = append(readers, newLazyStructReader(decoders[i], true))
	}

	enc := newUpdateEncoder(v2)
	writer := newLazyStructWriter(enc)
	var cw *currWrite

	for {
		live := readers[:0]
		for _, r := range readers {
			if r.curr != nil {
				live = append(live, r)
			}
		}
		readers = live
		if len(readers) == 0 {
			break
		}
		// Highest client first; within a client lowest clock first,
		// skips after concrete structs at the same clock.
		sort.SliceStable(readers, func(i, j int) bool {
			a, b := readers[i].curr, readers[j].curr
			if a.ID().Client != b.ID().Client {
				return a.ID().Client > b.ID().Client
			}
			if a.ID().Clock != b.ID().Clock {
				return a.ID().Clock < b.ID().Clock
			}
			_, aSkip := a.(*Skip)
			_, bSkip := b.(*Skip)
			return !aSkip && bSkip
		})
		currReader := readers[0]
		firstClient := currReader.curr.ID().Client

		if cw == nil {
			cw = &currWrite{st: currReader.curr}
			currReader.next()
		} else {
			curr := currReader.curr
			iterated := false
			// Fast-forward past everything already covered by the
			// pending write.
			for curr != nil &&
				curr.ID().Clock+curr.Len() <= cw.st.ID().Clock+cw.st.Len() &&
				curr.ID().Client >= cw.st.ID().Client {
				curr = currReader.next()
				iterated = true
			}
			if curr == nil ||
				curr.ID().Client != firstClient ||
				(iterated && curr.ID().Clock > cw.st.ID().Clock+cw.st.Len()) {
				continue
			}
			if firstClient != cw.st.ID().Client {
				writer.write(cw.st, cw.offset)
				cw = &currWrite{st: curr}
				currReader.next()
			} else if cw.st.ID().Clock+cw.st.Len() < curr.ID().Clock {
				// Gap within one client: bridge with a skip.
				if skip, ok := cw.st.(*Skip); ok {
					skip.length = curr.ID().Clock + curr.Len() - skip.id.Clock
				} else {
					writer.write(cw.st, cw.offset)
					diff := curr.ID().Clock - cw.st.ID().Clock - cw.st.Len()
					gap := &Skip{id: ID{Client: firstClient, Clock: cw.st.ID().Clock + cw.st.Len()}, length: diff}
					cw = &currWrite{st: gap}
				}
			} else {
				diff := cw.st.ID().Clock + cw.st.Len() - curr.ID().Clock
				if diff > 0 {
					if skip, ok := cw.st.(*Skip); ok {
						// Shorten the skip; the overlapping struct
						// carries more information.
						skip.length -= diff
					} else {
						curr = sliceStruct(curr, diff)
					}
				}
				if !cw.st.Merge(curr) {
					writer.write(cw.st, cw.offset)
					cw = &currWrite{st: curr}
					currReader.next()
				}
			}
		}
		for next := currReader.curr; next != nil; next = currReader.next() {
			if next.ID().Client != firstClient ||
				next.ID().Clock != cw.st.ID().Clock+cw.st.Len() {
				break
			}
			if _, isSkip := next.(*Skip); isSkip {
				break
			}
			writer.write(cw.st, cw.offset)
			cw = &currWrite{st: next}
		}
	}
	if cw != nil {
		if _, isSkip := cw.st.(*Skip); !isSkip {
			writer.write(cw.st, cw.offset)
		}
		cw = nil
	}
	writer.finish()

	sets := make([]*DeleteSet, len(decoders))
	for i, dec := range decoders {
		sets[i] = readDeleteSet(dec)
	}
	mergeDeleteSets(sets).Write(enc)
	return enc.Bytes()
}

func newUpdateDecoder(update []byte, v2 bool) UpdateDecoder {
	if v2 {
		return newUpdateDecoderV2(update)
	}
	return newUpdateDecoderV1(update)
}

func newUpdateEncoder(v2 bool) UpdateEncoder {
	if v2 {
		return newUpdateEncoderV2()
	}
	return newUpdateEncoderV1()
}

// MergeUpdates combines plain-format updates into one. Applying the
// result is equivalent to applying the inputs in any causally valid
// order.
func MergeUpdates(updates [][]byte) (merged []byte, err error) {
	defer catchBadUpdate(&err)
	return mergeUpdates(updates, false), nil
}

// MergeUpdatesV2 is MergeUpdates for the columnar format.
func MergeUpdatesV2(updates [][]byte) (merged []byte, err error) {
	defer catchBadUpdate(&err)
	return mergeUpdates(updates, true), nil
}

func diffUpdateBytes(update []byte, sv StateVector, v2 bool) []byte {
	enc := newUpdateEncoder(v2)
	writer := newLazyStructWriter(enc)
	dec := newUpdateDecoder(update, v2)
	reader := newLazyStructReader(dec, false)
	for reader.curr != nil {
		curr := reader.curr
		if _, isSkip := curr.(*Skip); isSkip {
			reader.next()
			continue
		}
		client := curr.ID().Client
		svClock := sv[client]
		if curr.ID().Clock+curr.Len() > svClock {
			offset := uint64(0)
			if svClock > curr.ID().Clock {
				offset = svClock - curr.ID().Clock
			}
			writer.write(curr, offset)
			reader.next()
			for reader.curr != nil && reader.curr.ID().Client == client {
				writer.write(reader.curr, 0)
				reader.next()
			}
		} else {
			for reader.curr != nil && reader.curr.ID().Client == client &&
				reader.curr.ID().Clock+reader.curr.Len() <= svClock {
				reader.next()
			}
		}
	}
	writer.finish()
	readDeleteSet(dec).Write(enc)
	return enc.Bytes()
}

// DiffUpdate strips from a plain-format update everything already
// covered by the encoded state vector. The delete set passes through
// unchanged.
func DiffUpdate(update, encodedSV []byte) (diff []byte, err error) {
	defer catchBadUpdate(&err)
	sv := decodeTargetSV(encodedSV)
	return diffUpdateBytes(update, sv, false), nil
}

// DiffUpdateV2 is DiffUpdate for the columnar format.
func DiffUpdateV2(update, encodedSV []byte) (diff []byte, err error) {
	defer catchBadUpdate(&err)
	sv := decodeTargetSV(encodedSV)
	return diffUpdateBytes(update, sv, true), nil
}

func stateVectorFromUpdate(update []byte, v2 bool) StateVector {
	reader := newLazyStructReader(newUpdateDecoder(update, v2), false)
	sv := StateVector{}
	curr := reader.curr
	if curr == nil {
		return sv
	}
	currClient := curr.ID().Client
	// A client's clock counts only while its run is contiguous from
	// clock zero; a gap or skip caps it.
	stopCounting := curr.ID().Clock != 0
	currClock := uint64(0)
	if !stopCounting {
		currClock = curr.ID().Clock + curr.Len()
	}
	for ; curr != nil; curr = reader.next() {
		if currClient != curr.ID().Client {
			if currClock != 0 {
				sv[currClient] = currClock
			}
			currClient = curr.ID().Client
			currClock = 0
			stopCounting = curr.ID().Clock != 0
		}
		if _, isSkip := curr.(*Skip); isSkip {
			stopCounting = true
		}
		if !stopCounting {
			currClock = curr.ID().Clock + curr.Len()
		}
	}
	if currClock != 0 {
		sv[currClient] = currClock
	}
	return sv
}

// EncodeStateVectorFromUpdate computes the state vector a plain-format
// update brings a fresh document to, without applying it.
func EncodeStateVectorFromUpdate(update []byte) (encodedSV []byte, err error) {
	defer catchBadUpdate(&err)
	enc := wire.NewEncoder()
	writeStateVector(enc, stateVectorFromUpdate(update, false))
	return enc.Bytes(), nil
}

// EncodeStateVectorFromUpdateV2 is EncodeStateVectorFromUpdate for the
// columnar format.
func EncodeStateVectorFromUpdateV2(update []byte) (encodedSV []byte, err error) {
	defer catchBadUpdate(&err)
	enc := wire.NewEncoder()
	writeStateVector(enc, stateVectorFromUpdate(update, true))
	return enc.Bytes(), nil
}

// convertUpdateFormat transcodes an update to the other wire format,
// struct by struct.
func convertUpdateFormat(update []byte, fromV2 bool) []byte {
	dec := newUpdateDecoder(update, fromV2)
	reader := newLazyStructReader(dec, false)
	enc := newUpdateEncoder(!fromV2)
	writer := newLazyStructWriter(enc)
	for curr := reader.curr; curr != nil; curr = reader.next() {
		writer.write(curr, 0)
	}
	writer.finish()
	readDeleteSet(dec).Write(enc)
	return enc.Bytes()
}

// ConvertUpdateFormatV1ToV2 transcodes a plain-format update to the
// columnar format.
func ConvertUpdateFormatV1ToV2(update []byte) (converted []byte, err error) {
	defer catchBadUpdate(&err)
	return convertUpdateFormat(update, false), nil
}

// ConvertUpdateFormatV2ToV1 transcodes a columnar-format update to the
// plain format.
func ConvertUpdateFormatV2ToV1(update []byte) (converted []byte, err error) {
	defer catchBadUpdate(&err)
	return convertUpdateFormat(update, true), nil
}

// StructInfo is one decoded struct in an update, for inspection.
type StructInfo struct {
	ID     ID
	Len    uint64
	Kind   string
	Origin *ID
	Right  *ID
	Parent string
	Key    string
}

// DeleteInfo is one delete range of an update's delete set.
type DeleteInfo struct {
	Client uint64
	Clock  uint64
	Len    uint64
}

// UpdateInfo is the decoded shape of an update.
type UpdateInfo struct {
	Structs []StructInfo
	Deletes []DeleteInfo
}

var contentKindNames = map[uint8]string{
	refGC:      "gc",
	refDeleted: "deleted",
	refJSON:    "json",
	refBinary:  "binary",
	refString:  "string",
	refEmbed:   "embed",
	refFormat:  "format",
	refType:    "container",
	refAny:     "any",
	refDoc:     "doc",
	refSkip:    "skip",
}

// InspectUpdate decodes an update into a human-inspectable listing of
// its structs and delete ranges.
func InspectUpdate(update []byte, v2 bool) (info *UpdateInfo, err error) {
	defer catchBadUpdate(&err)
	dec := newUpdateDecoder(update, v2)
	reader := newLazyStructReader(dec, false)
	info = &UpdateInfo{}
	for curr := reader.curr; curr != nil; curr = reader.next() {
		si := StructInfo{ID: curr.ID(), Len: curr.Len()}
		switch st := curr.(type) {
		case *GC:
			si.Kind = "gc"
		case *Skip:
			si.Kind = "skip"
		case *Item:
			si.Kind = contentKindNames[st.content.Ref()]
			si.Origin = st.origin
			si.Right = st.rightOrigin
			si.Key = st.parentSub
			switch {
			case st.parentName != nil:
				si.Parent = *st.parentName
			case st.parentID != nil:
				si.Parent = st.parentID.String()
			}
		}
		info.Structs = append(info.Structs, si)
	}
	ds := readDeleteSet(dec)
	clients := make([]uint64, 0, len(ds.clients))
	for client := range ds.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	for _, client := range clients {
		for _, r := range ds.clients[client] {
			info.Deletes = append(info.Deletes, DeleteInfo{Client: client, Clock: r.clock, Len: r.length})
		}
	}
	return info, nil
}

// String renders one struct line the way the inspect command prints it.
func (si StructInfo) String() string {
	s := fmt.Sprintf("%s len=%d kind=%s", si.ID, si.Len, si.Kind)
	if si.Origin != nil {
		s += " origin=" + si.Origin.String()
	}
	if si.Right != nil {
		s += " right=" + si.Right.String()
	}
	if si.Parent != "" {
		s += " parent=" + si.Parent
	}
	if si.Key != "" {
		s += " key=" + si.Key
	}
	return s
}
