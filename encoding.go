package weft

import (
	"encoding/json"
	"sort"

	"github.com/weftlab/go-weft/wire"
)

// DSEncoder is the delete-set half of an update encoder. Snapshots use
// it on its own.
type DSEncoder interface {
	// Rest is the uncompressed stream carrying structure counts, clocks
	// and arbitrary payload.
	Rest() *wire.Encoder

	ResetDsCurVal()
	WriteDsClock(clock uint64)
	WriteDsLen(length uint64)

	// Bytes assembles the final message.
	Bytes() []byte
}

// DSDecoder mirrors DSEncoder.
type DSDecoder interface {
	Rest() *wire.Decoder

	ResetDsCurVal()
	ReadDsClock() uint64
	ReadDsLen() uint64
}

// UpdateEncoder abstracts over the two wire formats. The plain format
// writes every field inline as varints; the columnar format batches each
// field across the whole message into its own compressed sub-stream.
type UpdateEncoder interface {
	DSEncoder

	// SetRest swaps the rest stream; the lazy writer uses this to chunk
	// per-client bytes.
	SetRest(*wire.Encoder)

	WriteLeftID(id ID)
	WriteRightID(id ID)
	WriteClient(client uint64)
	WriteInfo(info byte)
	WriteString(s string)
	WriteParentInfo(isRoot bool)
	WriteTypeRef(ref uint64)
	WriteLen(length uint64)
	WriteAny(v any)
	WriteBuf(b []byte)
	WriteJSON(v any)
	WriteKey(key string)
}

// UpdateDecoder mirrors UpdateEncoder.
type UpdateDecoder interface {
	DSDecoder

	ReadLeftID() ID
	ReadRightID() ID
	ReadClient() uint64
	ReadInfo() byte
	ReadString() string
	ReadParentInfo() bool
	ReadTypeRef() uint64
	ReadLen() uint64
	ReadAny() any
	ReadBuf() []byte
	ReadJSON() any
	ReadKey() string
}

// updateEncoderV1 is the plain per-field varint format.
type updateEncoderV1 struct {
	rest *wire.Encoder
}

func newUpdateEncoderV1() *updateEncoderV1 {
	return &updateEncoderV1{rest: wire.NewEncoder()}
}

func (e *updateEncoderV1) Rest() *wire.Encoder     { return e.rest }
func (e *updateEncoderV1) SetRest(r *wire.Encoder) { e.rest = r }

func (e *updateEncoderV1) ResetDsCurVal()            {}
func (e *updateEncoderV1) WriteDsClock(clock uint64) { e.rest.WriteVarUint(clock) }
func (e *updateEncoderV1) WriteDsLen(length uint64)  { e.rest.WriteVarUint(length) }

func (e *updateEncoderV1) WriteLeftID(id ID) {
	e.rest.WriteVarUint(id.Client)
	e.rest.WriteVarUint(id.Clock)
}

func (e *updateEncoderV1) WriteRightID(id ID) { e.WriteLeftID(id) }

func (e *updateEncoderV1) WriteClient(client uint64) { e.rest.WriteVarUint(client) }
func (e *updateEncoderV1) WriteInfo(info byte)       { e.rest.WriteUint8(info) }
func (e *updateEncoderV1) WriteString(s string)      { e.rest.WriteVarString(s) }

func (e *updateEncoderV1) WriteParentInfo(isRoot bool) {
	if isRoot {
		e.rest.WriteVarUint(1)
	} else {
		e.rest.WriteVarUint(0)
	}
}

func (e *updateEncoderV1) WriteTypeRef(ref uint64) { e.rest.WriteVarUint(ref) }
func (e *updateEncoderV1) WriteLen(length uint64)  { e.rest.WriteVarUint(length) }
func (e *updateEncoderV1) WriteAny(v any)          { e.rest.WriteAny(v) }
func (e *updateEncoderV1) WriteBuf(b []byte)       { e.rest.WriteVarBytes(b) }

func (e *updateEncoderV1) WriteJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic("weft: unmarshalable json content: " + err.Error())
	}
	e.rest.WriteVarString(string(b))
}

func (e *updateEncoderV1) WriteKey(key string) { e.rest.WriteVarString(key) }

func (e *updateEncoderV1) Bytes() []byte { return e.rest.Bytes() }

// updateDecoderV1 reads the plain format.
type updateDecoderV1 struct {
	rest *wire.Decoder
}

func newUpdateDecoderV1(buf []byte) *updateDecoderV1 {
	return &updateDecoderV1{rest: wire.NewDecoder(buf)}
}

func (d *updateDecoderV1) Rest() *wire.Decoder { return d.rest }

func (d *updateDecoderV1) ResetDsCurVal()      {}
func (d *updateDecoderV1) ReadDsClock() uint64 { return d.rest.ReadVarUint() }
func (d *updateDecoderV1) ReadDsLen() uint64   { return d.rest.ReadVarUint() }

func (d *updateDecoderV1) ReadLeftID() ID {
	return ID{Client: d.rest.ReadVarUint(), Clock: d.rest.ReadVarUint()}
}

func (d *updateDecoderV1) ReadRightID() ID { return d.ReadLeftID() }

func (d *updateDecoderV1) ReadClient() uint64   { return d.rest.ReadVarUint() }
func (d *updateDecoderV1) ReadInfo() byte       { return d.rest.ReadUint8() }
func (d *updateDecoderV1) ReadString() string   { return d.rest.ReadVarString() }
func (d *updateDecoderV1) ReadParentInfo() bool { return d.rest.ReadVarUint() == 1 }
func (d *updateDecoderV1) ReadTypeRef() uint64  { return d.rest.ReadVarUint() }
func (d *updateDecoderV1) ReadLen() uint64      { return d.rest.ReadVarUint() }
func (d *updateDecoderV1) ReadAny() any         { return d.rest.ReadAny() }
func (d *updateDecoderV1) ReadBuf() []byte      { return append([]byte(nil), d.rest.ReadVarBytes()...) }

func (d *updateDecoderV1) ReadJSON() any {
	var v any
	if err := json.Unmarshal([]byte(d.rest.ReadVarString()), &v); err != nil {
		badUpdate(err)
	}
	return v
}

func (d *updateDecoderV1) ReadKey() string { return d.rest.ReadVarString() }

// updateEncoderV2 is the columnar format: one compressed sub-stream per
// struct field, assembled length-prefixed ahead of the rest stream.
type updateEncoderV2 struct {
	rest     *wire.Encoder
	dsCurVal uint64

	keyClock   wire.IntDiffOptRleEncoder
	client     wire.UintOptRleEncoder
	leftClock  wire.IntDiffOptRleEncoder
	rightClock wire.IntDiffOptRleEncoder
	info       wire.RleEncoder
	str        wire.StringEncoder
	parentInfo wire.RleEncoder
	typeRef    wire.UintOptRleEncoder
	length     wire.UintOptRleEncoder

	keyMap map[string]uint64
	keyIdx uint64
}

func newUpdateEncoderV2() *updateEncoderV2 {
	return &updateEncoderV2{
		rest:   wire.NewEncoder(),
		keyMap: map[string]uint64{},
	}
}

func (e *updateEncoderV2) Rest() *wire.Encoder     { return e.rest }
func (e *updateEncoderV2) SetRest(r *wire.Encoder) { e.rest = r }

func (e *updateEncoderV2) ResetDsCurVal() { e.dsCurVal = 0 }

func (e *updateEncoderV2) WriteDsClock(clock uint64) {
	e.rest.WriteVarUint(clock - e.dsCurVal)
	e.dsCurVal = clock
}

func (e *updateEncoderV2) WriteDsLen(length uint64) {
	if length == 0 {
		panic("weft: empty delete range")
	}
	e.rest.WriteVarUint(length - 1)
	e.dsCurVal += length
}

func (e *updateEncoderV2) WriteLeftID(id ID) {
	e.client.Write(id.Client)
	e.leftClock.Write(int64(id.Clock))
}

func (e *updateEncoderV2) WriteRightID(id ID) {
	e.client.Write(id.Client)
	e.rightClock.Write(int64(id.Clock))
}

func (e *updateEncoderV2) WriteClient(client uint64) { e.client.Write(client) }
func (e *updateEncoderV2) WriteInfo(info byte)       { e.info.Write(uint64(info)) }
func (e *updateEncoderV2) WriteString(s string)      { e.str.Write(s) }

func (e *updateEncoderV2) WriteParentInfo(isRoot bool) {
	if isRoot {
		e.parentInfo.Write(1)
	} else {
		e.parentInfo.Write(0)
	}
}

func (e *updateEncoderV2) WriteTypeRef(ref uint64) { e.typeRef.Write(ref) }
func (e *updateEncoderV2) WriteLen(length uint64)  { e.length.Write(length) }
func (e *updateEncoderV2) WriteAny(v any)          { e.rest.WriteAny(v) }
func (e *updateEncoderV2) WriteBuf(b []byte)       { e.rest.WriteVarBytes(b) }
func (e *updateEncoderV2) WriteJSON(v any)         { e.rest.WriteAny(v) }

func (e *updateEncoderV2) WriteKey(key string) {
	if idx, ok := e.keyMap[key]; ok {
		e.keyClock.Write(int64(idx))
		return
	}
	e.keyClock.Write(int64(e.keyIdx))
	e.str.Write(key)
	e.keyMap[key] = e.keyIdx
	e.keyIdx++
}

func (e *updateEncoderV2) Bytes() []byte {
	out := wire.NewEncoder()
	// Feature flag, reserved.
	out.WriteVarUint(0)
	out.WriteVarBytes(e.keyClock.Bytes())
	out.WriteVarBytes(e.client.Bytes())
	out.WriteVarBytes(e.leftClock.Bytes())
	out.WriteVarBytes(e.rightClock.Bytes())
	out.WriteVarBytes(e.info.Bytes())
	out.WriteVarBytes(e.str.Bytes())
	out.WriteVarBytes(e.parentInfo.Bytes())
	out.WriteVarBytes(e.typeRef.Bytes())
	out.WriteVarBytes(e.length.Bytes())
	out.WriteBytes(e.rest.Bytes())
	return out.Bytes()
}

// updateDecoderV2 reads the columnar format.
type updateDecoderV2 struct {
	rest     *wire.Decoder
	dsCurVal uint64

	keyClock   *wire.IntDiffOptRleDecoder
	client     *wire.UintOptRleDecoder
	leftClock  *wire.IntDiffOptRleDecoder
	rightClock *wire.IntDiffOptRleDecoder
	info       *wire.RleDecoder
	str        *wire.StringDecoder
	parentInfo *wire.RleDecoder
	typeRef    *wire.UintOptRleDecoder
	length     *wire.UintOptRleDecoder

	keys []string
}

func newUpdateDecoderV2(buf []byte) *updateDecoderV2 {
	dec := wire.NewDecoder(buf)
	dec.ReadVarUint() // feature flag, reserved
	d := &updateDecoderV2{}
	d.keyClock = wire.NewIntDiffOptRleDecoder(dec.ReadVarBytes())
	d.client = wire.NewUintOptRleDecoder(dec.ReadVarBytes())
	d.leftClock = wire.NewIntDiffOptRleDecoder(dec.ReadVarBytes())
	d.rightClock = wire.NewIntDiffOptRleDecoder(dec.ReadVarBytes())
	d.info = wire.NewRleDecoder(dec.ReadVarBytes())
	d.str = wire.NewStringDecoder(dec.ReadVarBytes())
	d.parentInfo = wire.NewRleDecoder(dec.ReadVarBytes())
	d.typeRef = wire.NewUintOptRleDecoder(dec.ReadVarBytes())
	d.length = wire.NewUintOptRleDecoder(dec.ReadVarBytes())
	d.rest = wire.NewDecoder(dec.Rest())
	return d
}

func (d *updateDecoderV2) Rest() *wire.Decoder { return d.rest }

func (d *updateDecoderV2) ResetDsCurVal() { d.dsCurVal = 0 }

func (d *updateDecoderV2) ReadDsClock() uint64 {
	d.dsCurVal += d.rest.ReadVarUint()
	return d.dsCurVal
}

func (d *updateDecoderV2) ReadDsLen() uint64 {
	diff := d.rest.ReadVarUint() + 1
	d.dsCurVal += diff
	return diff
}

func (d *updateDecoderV2) ReadLeftID() ID {
	return ID{Client: d.client.Read(), Clock: uint64(d.leftClock.Read())}
}

func (d *updateDecoderV2) ReadRightID() ID {
	return ID{Client: d.client.Read(), Clock: uint64(d.rightClock.Read())}
}

func (d *updateDecoderV2) ReadClient() uint64   { return d.client.Read() }
func (d *updateDecoderV2) ReadInfo() byte       { return byte(d.info.Read()) }
func (d *updateDecoderV2) ReadString() string   { return d.str.Read() }
func (d *updateDecoderV2) ReadParentInfo() bool { return d.parentInfo.Read() == 1 }
func (d *updateDecoderV2) ReadTypeRef() uint64  { return d.typeRef.Read() }
func (d *updateDecoderV2) ReadLen() uint64      { return d.length.Read() }
func (d *updateDecoderV2) ReadAny() any         { return d.rest.ReadAny() }
func (d *updateDecoderV2) ReadBuf() []byte      { return append([]byte(nil), d.rest.ReadVarBytes()...) }
func (d *updateDecoderV2) ReadJSON() any        { return d.rest.ReadAny() }

func (d *updateDecoderV2) ReadKey() string {
	idx := d.keyClock.Read()
	if idx < int64(len(d.keys)) {
		return d.keys[idx]
	}
	key := d.str.Read()
	d.keys = append(d.keys, key)
	return key
}

// writeStateVector encodes sv, clients in descending id order.
func writeStateVector(enc *wire.Encoder, sv StateVector) {
	enc.WriteVarUint(uint64(len(sv)))
	clients := make([]uint64, 0, len(sv))
	for client := range sv {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	for _, client := range clients {
		enc.WriteVarUint(client)
		enc.WriteVarUint(sv[client])
	}
}

func readStateVector(dec *wire.Decoder) StateVector {
	n := dec.ReadVarUint()
	sv := make(StateVector, n)
	for i := uint64(0); i < n; i++ {
		client := dec.ReadVarUint()
		sv[client] = dec.ReadVarUint()
	}
	return sv
}

// EncodeStateVector returns the document's state vector in its binary
// form.
func EncodeStateVector(doc *Doc) []byte {
	enc := wire.NewEncoder()
	writeStateVector(enc, doc.store.StateVector())
	return enc.Bytes()
}

// DecodeStateVector parses binary state-vector bytes.
func DecodeStateVector(b []byte) (sv StateVector, err error) {
	defer catchBadUpdate(&err)
	sv = readStateVector(wire.NewDecoder(b))
	return sv, nil
}
