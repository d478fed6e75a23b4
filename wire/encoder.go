// Package wire implements the binary primitives shared by both update
// formats: unsigned and signed varints, the run-length encoder family, the
// batched string pool, and a small self-describing codec for loosely typed
// values.
//
// Unsigned varints use 7 payload bits per byte with a continuation bit.
// Signed varints fold the sign into bit 0x40 of the first byte, so that a
// negative zero is representable (the optimized RLE encoders use the sign
// as a "count follows" flag).
package wire

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"unicode/utf16"
)

// Encoder is an append-only byte buffer with the primitive write
// operations. The zero value is ready to use.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded buffer. The buffer is owned by the encoder;
// callers must not write to the encoder afterwards if they retain it.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) WriteUint8(b byte) {
	e.buf = append(e.buf, b)
}

// WriteVarUint writes n as an unsigned varint.
func (e *Encoder) WriteVarUint(n uint64) {
	for n >= 0x80 {
		e.buf = append(e.buf, byte(n)|0x80)
		n >>= 7
	}
	e.buf = append(e.buf, byte(n))
}

// WriteVarInt writes n as a signed varint.
func (e *Encoder) WriteVarInt(n int64) {
	neg := n < 0
	var abs uint64
	if neg {
		abs = uint64(-n)
	} else {
		abs = uint64(n)
	}
	e.writeVarIntParts(abs, neg)
}

// writeVarIntParts writes a signed varint given magnitude and sign. A
// negative zero (abs == 0, neg == true) is distinct from positive zero.
func (e *Encoder) writeVarIntParts(abs uint64, neg bool) {
	first := byte(abs & 0x3f)
	if neg {
		first |= 0x40
	}
	abs >>= 6
	if abs > 0 {
		first |= 0x80
	}
	e.buf = append(e.buf, first)
	for abs > 0 {
		b := byte(abs & 0x7f)
		abs >>= 7
		if abs > 0 {
			b |= 0x80
		}
		e.buf = append(e.buf, b)
	}
}

// WriteVarString writes a length-prefixed UTF-8 string.
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteVarBytes writes a length-prefixed byte slice.
func (e *Encoder) WriteVarBytes(b []byte) {
	e.WriteVarUint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteBytes appends b without a length prefix.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) writeFloat32(f float32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(f))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) writeFloat64(f float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) writeInt64BE(n int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	e.buf = append(e.buf, b[:]...)
}

// Type tags of the loosely typed value codec. The tag byte counts down
// from 127 so that unknown (higher-level) tags can never collide with it.
const (
	tagUndefined = 127
	tagNull      = 126
	tagInteger   = 125
	tagFloat32   = 124
	tagFloat64   = 123
	tagBigInt    = 122
	tagFalse     = 121
	tagTrue      = 120
	tagString    = 119
	tagObject    = 118
	tagArray     = 117
	tagBytes     = 116
)

const maxSafeInteger = 1<<53 - 1

// WriteAny writes a loosely typed value: nil, bool, integers, floats,
// string, []byte, []any and map[string]any. Map keys are written in sorted
// order so encoding is deterministic.
func (e *Encoder) WriteAny(v any) {
	switch x := v.(type) {
	case nil:
		e.WriteUint8(tagNull)
	case bool:
		if x {
			e.WriteUint8(tagTrue)
		} else {
			e.WriteUint8(tagFalse)
		}
	case string:
		e.WriteUint8(tagString)
		e.WriteVarString(x)
	case int:
		e.writeAnyInt(int64(x))
	case int32:
		e.writeAnyInt(int64(x))
	case uint32:
		e.writeAnyInt(int64(x))
	case int64:
		e.writeAnyInt(x)
	case float32:
		e.WriteUint8(tagFloat32)
		e.writeFloat32(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) <= maxSafeInteger {
			e.writeAnyInt(int64(x))
			return
		}
		if f32 := float32(x); float64(f32) == x {
			e.WriteUint8(tagFloat32)
			e.writeFloat32(f32)
			return
		}
		e.WriteUint8(tagFloat64)
		e.writeFloat64(x)
	case []byte:
		e.WriteUint8(tagBytes)
		e.WriteVarBytes(x)
	case []any:
		e.WriteUint8(tagArray)
		e.WriteVarUint(uint64(len(x)))
		for _, el := range x {
			e.WriteAny(el)
		}
	case map[string]any:
		e.WriteUint8(tagObject)
		e.WriteVarUint(uint64(len(x)))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.WriteVarString(k)
			e.WriteAny(x[k])
		}
	default:
		e.WriteUint8(tagUndefined)
	}
}

func (e *Encoder) writeAnyInt(n int64) {
	if n > maxSafeInteger || n < -maxSafeInteger {
		e.WriteUint8(tagBigInt)
		e.writeInt64BE(n)
		return
	}
	e.WriteUint8(tagInteger)
	e.WriteVarInt(n)
}

// RleEncoder run-length encodes small unsigned values (info bytes and the
// like): a value is written once, repeats accumulate into a count written
// as count-1 just before the next distinct value. A trailing count is
// omitted; the decoder repeats the final value indefinitely.
type RleEncoder struct {
	enc   Encoder
	last  uint64
	count uint64
}

func (r *RleEncoder) Write(v uint64) {
	if r.count > 0 && r.last == v {
		r.count++
		return
	}
	if r.count > 0 {
		r.enc.WriteVarUint(r.count - 1)
	}
	r.count = 1
	r.last = v
	r.enc.WriteVarUint(v)
}

func (r *RleEncoder) Bytes() []byte {
	return r.enc.Bytes()
}

// UintOptRleEncoder run-length encodes unsigned values, signaling a run
// via the sign of the written value instead of a flag byte: a single
// occurrence is written as +v, a run as -v followed by count-2.
type UintOptRleEncoder struct {
	enc   Encoder
	last  uint64
	count uint64
}

func (u *UintOptRleEncoder) Write(v uint64) {
	if u.count > 0 && u.last == v {
		u.count++
		return
	}
	u.flush()
	u.count = 1
	u.last = v
}

func (u *UintOptRleEncoder) flush() {
	if u.count == 0 {
		return
	}
	u.enc.writeVarIntParts(u.last, u.count != 1)
	if u.count > 1 {
		u.enc.WriteVarUint(u.count - 2)
	}
	u.count = 0
}

// Bytes flushes the pending run; write no further values afterwards.
func (u *UintOptRleEncoder) Bytes() []byte {
	u.flush()
	return u.enc.Bytes()
}

// IntDiffOptRleEncoder encodes mostly-monotonic sequences as deltas with
// run-length compression. The low bit of the written value flags a
// following count. Ideal for clock streams.
type IntDiffOptRleEncoder struct {
	enc   Encoder
	last  int64
	diff  int64
	count uint64
}

func (d *IntDiffOptRleEncoder) Write(v int64) {
	if d.count > 0 && d.diff == v-d.last {
		d.last = v
		d.count++
		return
	}
	d.flush()
	d.count = 1
	d.diff = v - d.last
	d.last = v
}

func (d *IntDiffOptRleEncoder) flush() {
	if d.count == 0 {
		return
	}
	encoded := d.diff*2 + 1
	if d.count == 1 {
		encoded = d.diff * 2
	}
	d.enc.WriteVarInt(encoded)
	if d.count > 1 {
		d.enc.WriteVarUint(d.count - 2)
	}
	d.count = 0
}

// Bytes flushes the pending run; write no further values afterwards.
func (d *IntDiffOptRleEncoder) Bytes() []byte {
	d.flush()
	return d.enc.Bytes()
}

// StringEncoder batches many small strings into one pool string, storing
// the individual lengths (in UTF-16 code units, for wire compatibility)
// through a UintOptRleEncoder.
type StringEncoder struct {
	sb   strings.Builder
	lens UintOptRleEncoder
}

func (s *StringEncoder) Write(str string) {
	s.sb.WriteString(str)
	s.lens.Write(Utf16Len(str))
}

func (s *StringEncoder) Bytes() []byte {
	enc := NewEncoder()
	enc.WriteVarString(s.sb.String())
	enc.WriteBytes(s.lens.Bytes())
	return enc.Bytes()
}

// Utf16Len returns the length of s counted in UTF-16 code units.
func Utf16Len(s string) uint64 {
	var n uint64
	for _, r := range s {
		n += uint64(utf16.RuneLen(r))
	}
	return n
}

// Utf16Split splits s after n UTF-16 code units. If n falls inside a
// surrogate pair the split happens before the pair.
func Utf16Split(s string, n uint64) (string, string) {
	var units uint64
	for i, r := range s {
		if units >= n {
			return s[:i], s[i:]
		}
		units += uint64(utf16.RuneLen(r))
	}
	return s, ""
}
