package weft

import (
	"github.com/weftlab/go-weft/wire"
)

// Snapshot captures a document version: the state vector saying how much
// of each client's history is included, plus the delete set saying which
// of those clocks were deleted at that point.
type Snapshot struct {
	ds *DeleteSet
	sv StateVector
}

// TakeSnapshot captures the document's current version.
func TakeSnapshot(doc *Doc) *Snapshot {
	return &Snapshot{
		ds: deleteSetFromStructStore(doc.store),
		sv: doc.store.StateVector(),
	}
}

// StateVector returns the snapshot's state vector.
func (s *Snapshot) StateVector() StateVector { return s.sv }

// Equal reports whether two snapshots describe the same version.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if len(s.sv) != len(other.sv) || len(s.ds.clients) != len(other.ds.clients) {
		return false
	}
	for client, clock := range s.sv {
		if other.sv[client] != clock {
			return false
		}
	}
	for client, ranges := range s.ds.clients {
		otherRanges, ok := other.ds.clients[client]
		if !ok || len(otherRanges) != len(ranges) {
			return false
		}
		for i, r := range ranges {
			if otherRanges[i] != r {
				return false
			}
		}
	}
	return true
}

// Contains reports whether the struct at id is included in the snapshot.
func (s *Snapshot) Contains(id ID) bool {
	return id.Clock < s.sv[id.Client]
}

// dsEncoderV1 is a delete-set-only encoder in the plain format.
type dsEncoderV1 struct {
	rest *wire.Encoder
}

func newDSEncoderV1() *dsEncoderV1 { return &dsEncoderV1{rest: wire.NewEncoder()} }

func (e *dsEncoderV1) Rest() *wire.Encoder       { return e.rest }
func (e *dsEncoderV1) ResetDsCurVal()            {}
func (e *dsEncoderV1) WriteDsClock(clock uint64) { e.rest.WriteVarUint(clock) }
func (e *dsEncoderV1) WriteDsLen(length uint64)  { e.rest.WriteVarUint(length) }
func (e *dsEncoderV1) Bytes() []byte             { return e.rest.Bytes() }

type dsDecoderV1 struct {
	rest *wire.Decoder
}

func newDSDecoderV1(buf []byte) *dsDecoderV1 { return &dsDecoderV1{rest: wire.NewDecoder(buf)} }

func (d *dsDecoderV1) Rest() *wire.Decoder { return d.rest }
func (d *dsDecoderV1) ResetDsCurVal()      {}
func (d *dsDecoderV1) ReadDsClock() uint64 { return d.rest.ReadVarUint() }
func (d *dsDecoderV1) ReadDsLen() uint64   { return d.rest.ReadVarUint() }

// dsEncoderV2 delta-encodes clocks within each client, like the columnar
// update format does.
type dsEncoderV2 struct {
	rest     *wire.Encoder
	dsCurVal uint64
}

func newDSEncoderV2() *dsEncoderV2 { return &dsEncoderV2{rest: wire.NewEncoder()} }

func (e *dsEncoderV2) Rest() *wire.Encoder { return e.rest }
func (e *dsEncoderV2) ResetDsCurVal()      { e.dsCurVal = 0 }

func (e *dsEncoderV2) WriteDsClock(clock uint64) {
	e.rest.WriteVarUint(clock - e.dsCurVal)
	e.dsCurVal = clock
}

func (e *dsEncoderV2) WriteDsLen(length uint64) {
	if length == 0 {
		panic("weft: empty delete range")
	}
	e.rest.WriteVarUint(length - 1)
	e.dsCurVal += length
}

func (e *dsEncoderV2) Bytes() []byte { return e.rest.Bytes() }

type dsDecoderV2 struct {
	rest     *wire.Decoder
	dsCurVal uint64
}

func newDSDecoderV2(buf []byte) *dsDecoderV2 { return &dsDecoderV2{rest: wire.NewDecoder(buf)} }

func (d *dsDecoderV2) Rest() *wire.Decoder { return d.rest }
func (d *dsDecoderV2) ResetDsCurVal()      { d.dsCurVal = 0 }

func (d *dsDecoderV2) ReadDsClock() uint64 {
	d.dsCurVal += d.rest.ReadVarUint()
	return d.dsCurVal
}

func (d *dsDecoderV2) ReadDsLen() uint64 {
	diff := d.rest.ReadVarUint() + 1
	d.dsCurVal += diff
	return diff
}

func encodeSnapshot(s *Snapshot, enc DSEncoder) []byte {
	s.ds.Write(enc)
	writeStateVector(enc.Rest(), s.sv)
	return enc.Bytes()
}

func decodeSnapshot(dec DSDecoder) *Snapshot {
	return &Snapshot{
		ds: readDeleteSet(dec),
		sv: readStateVector(dec.Rest()),
	}
}

// EncodeSnapshot encodes the snapshot in the plain format.
func EncodeSnapshot(s *Snapshot) []byte {
	return encodeSnapshot(s, newDSEncoderV1())
}

// EncodeSnapshotV2 encodes the snapshot with delta-compressed delete
// clocks.
func EncodeSnapshotV2(s *Snapshot) []byte {
	return encodeSnapshot(s, newDSEncoderV2())
}

// DecodeSnapshot parses a plain-format snapshot.
func DecodeSnapshot(b []byte) (s *Snapshot, err error) {
	defer catchBadUpdate(&err)
	return decodeSnapshot(newDSDecoderV1(b)), nil
}

// DecodeSnapshotV2 parses a delta-compressed snapshot.
func DecodeSnapshotV2(b []byte) (s *Snapshot, err error) {
	defer catchBadUpdate(&err)
	return decodeSnapshot(newDSDecoderV2(b)), nil
}
