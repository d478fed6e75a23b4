package wire

import (
	"encoding/binary"
	"math"
)

// Decoder reads the primitives written by Encoder. Methods panic with
// *Corrupt on malformed input; see Recover.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// HasContent reports whether unread bytes remain.
func (d *Decoder) HasContent() bool {
	return d.pos < len(d.buf)
}

// Rest returns the unread remainder of the buffer without consuming it.
func (d *Decoder) Rest() []byte {
	return d.buf[d.pos:]
}

func (d *Decoder) ReadUint8() byte {
	if d.pos >= len(d.buf) {
		corrupt(ErrOutOfBounds)
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

// ReadVarUint reads an unsigned varint.
func (d *Decoder) ReadVarUint() uint64 {
	var n uint64
	var shift uint
	for {
		b := d.ReadUint8()
		if shift == 63 && b > 1 {
			corrupt(ErrOverflow)
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return n
		}
		shift += 7
		if shift > 63 {
			corrupt(ErrOverflow)
		}
	}
}

// ReadVarInt reads a signed varint, reporting the raw sign bit so a
// negative zero survives the round trip.
func (d *Decoder) ReadVarInt() (int64, bool) {
	b := d.ReadUint8()
	neg := b&0x40 != 0
	n := uint64(b & 0x3f)
	if b&0x80 == 0 {
		return applySign(n, neg), neg
	}
	shift := uint(6)
	for {
		b = d.ReadUint8()
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return applySign(n, neg), neg
		}
		shift += 7
		if shift > 63 {
			corrupt(ErrOverflow)
		}
	}
}

func applySign(n uint64, neg bool) int64 {
	if neg {
		return -int64(n)
	}
	return int64(n)
}

// ReadVarString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadVarString() string {
	return string(d.ReadVarBytes())
}

// ReadVarBytes reads a length-prefixed byte slice. The returned slice
// aliases the decoder's buffer.
func (d *Decoder) ReadVarBytes() []byte {
	n := d.ReadVarUint()
	return d.ReadBytes(n)
}

// ReadBytes reads exactly n bytes, aliasing the decoder's buffer.
func (d *Decoder) ReadBytes(n uint64) []byte {
	if n > uint64(len(d.buf)-d.pos) {
		corrupt(ErrOutOfBounds)
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b
}

func (d *Decoder) readFloat32() float64 {
	b := d.ReadBytes(4)
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}

func (d *Decoder) readFloat64() float64 {
	b := d.ReadBytes(8)
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d *Decoder) readInt64BE() int64 {
	b := d.ReadBytes(8)
	return int64(binary.BigEndian.Uint64(b))
}

// ReadAny reads a value written by WriteAny. Integers decode as int64,
// floats as float64, objects as map[string]any, arrays as []any.
func (d *Decoder) ReadAny() any {
	tag := d.ReadUint8()
	switch tag {
	case tagUndefined, tagNull:
		return nil
	case tagInteger:
		n, _ := d.ReadVarInt()
		return n
	case tagFloat32:
		return d.readFloat32()
	case tagFloat64:
		return d.readFloat64()
	case tagBigInt:
		return d.readInt64BE()
	case tagFalse:
		return false
	case tagTrue:
		return true
	case tagString:
		return d.ReadVarString()
	case tagObject:
		n := d.ReadVarUint()
		m := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			k := d.ReadVarString()
			m[k] = d.ReadAny()
		}
		return m
	case tagArray:
		n := d.ReadVarUint()
		arr := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			arr = append(arr, d.ReadAny())
		}
		return arr
	case tagBytes:
		b := d.ReadVarBytes()
		out := make([]byte, len(b))
		copy(out, b)
		return out
	default:
		corrupt(ErrUnknownTag)
		return nil
	}
}

// RleDecoder reads a stream produced by RleEncoder.
type RleDecoder struct {
	dec   *Decoder
	last  uint64
	count int64 // -1 repeats the final value indefinitely
}

func NewRleDecoder(buf []byte) *RleDecoder {
	return &RleDecoder{dec: NewDecoder(buf)}
}

func (r *RleDecoder) Read() uint64 {
	if r.count == 0 {
		r.last = r.dec.ReadVarUint()
		if r.dec.HasContent() {
			r.count = int64(r.dec.ReadVarUint()) + 1
		} else {
			r.count = -1
		}
	}
	if r.count > 0 {
		r.count--
	}
	return r.last
}

// UintOptRleDecoder reads a stream produced by UintOptRleEncoder.
type UintOptRleDecoder struct {
	dec   *Decoder
	last  uint64
	count uint64
}

func NewUintOptRleDecoder(buf []byte) *UintOptRleDecoder {
	return &UintOptRleDecoder{dec: NewDecoder(buf)}
}

func (u *UintOptRleDecoder) Read() uint64 {
	if u.count == 0 {
		v, neg := u.dec.ReadVarInt()
		if neg {
			u.last = uint64(-v)
			u.count = u.dec.ReadVarUint() + 2
		} else {
			u.last = uint64(v)
			u.count = 1
		}
	}
	u.count--
	return u.last
}

// IntDiffOptRleDecoder reads a stream produced by IntDiffOptRleEncoder.
type IntDiffOptRleDecoder struct {
	dec   *Decoder
	last  int64
	diff  int64
	count uint64
}

func NewIntDiffOptRleDecoder(buf []byte) *IntDiffOptRleDecoder {
	return &IntDiffOptRleDecoder{dec: NewDecoder(buf)}
}

func (d *IntDiffOptRleDecoder) Read() int64 {
	if d.count == 0 {
		v, _ := d.dec.ReadVarInt()
		hasCount := v&1 != 0
		d.diff = v >> 1
		d.count = 1
		if hasCount {
			d.count = d.dec.ReadVarUint() + 2
		}
	}
	d.last += d.diff
	d.count--
	return d.last
}

// StringDecoder reads a stream produced by StringEncoder.
type StringDecoder struct {
	lens *UintOptRleDecoder
	pool string
}

func NewStringDecoder(buf []byte) *StringDecoder {
	dec := NewDecoder(buf)
	pool := dec.ReadVarString()
	return &StringDecoder{
		pool: pool,
		lens: NewUintOptRleDecoder(dec.Rest()),
	}
}

func (s *StringDecoder) Read() string {
	n := s.lens.Read()
	head, rest := Utf16Split(s.pool, n)
	s.pool = rest
	return head
}
