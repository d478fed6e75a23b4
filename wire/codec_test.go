package wire

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVarUintRoundtrip(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 255, 256, 1<<21 - 1, 1 << 21, 1<<35 + 9, math.MaxUint64}
	enc := NewEncoder()
	for _, v := range vals {
		enc.WriteVarUint(v)
	}
	dec := NewDecoder(enc.Bytes())
	for _, want := range vals {
		if got := dec.ReadVarUint(); got != want {
			t.Fatalf("ReadVarUint() = %d, want %d", got, want)
		}
	}
	if dec.HasContent() {
		t.Fatal("decoder has trailing content")
	}
}

func TestVarIntRoundtrip(t *testing.T) {
	vals := []int64{0, 1, -1, 63, -63, 64, -64, 1 << 30, -(1 << 30), math.MaxInt64, math.MinInt64 + 1}
	enc := NewEncoder()
	for _, v := range vals {
		enc.WriteVarInt(v)
	}
	dec := NewDecoder(enc.Bytes())
	for _, want := range vals {
		got, _ := dec.ReadVarInt()
		if got != want {
			t.Fatalf("ReadVarInt() = %d, want %d", got, want)
		}
	}
}

func TestVarIntNegativeZero(t *testing.T) {
	enc := NewEncoder()
	enc.writeVarIntParts(0, true)
	dec := NewDecoder(enc.Bytes())
	n, neg := dec.ReadVarInt()
	if n != 0 || !neg {
		t.Fatalf("ReadVarInt() = (%d, %v), want (0, true)", n, neg)
	}
}

func TestAnyRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		v    any
	}{
		{name: "nil", v: nil},
		{name: "false", v: false},
		{name: "true", v: true},
		{name: "int", v: int64(42)},
		{name: "negative int", v: int64(-7)},
		{name: "float", v: 1.5},
		{name: "string", v: "hello"},
		{name: "bytes", v: []byte{1, 2, 3}},
		{name: "array", v: []any{int64(1), "two", 3.5}},
		{name: "object", v: map[string]any{"a": int64(1), "b": []any{true}}},
		{name: "nested", v: map[string]any{"m": map[string]any{"x": nil}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc := NewEncoder()
			enc.WriteAny(tc.v)
			dec := NewDecoder(enc.Bytes())
			got := dec.ReadAny()
			if d := cmp.Diff(tc.v, got); d != "" {
				t.Errorf("ReadAny() mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestAnyCorruptTag(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on unknown tag")
		} else if _, ok := r.(*Corrupt); !ok {
			t.Fatalf("expected *Corrupt, got %T", r)
		}
	}()
	NewDecoder([]byte{42}).ReadAny()
}

func TestRleRoundtrip(t *testing.T) {
	vals := []uint64{1, 1, 1, 2, 3, 3, 3, 3, 3, 0}
	var enc RleEncoder
	for _, v := range vals {
		enc.Write(v)
	}
	dec := NewRleDecoder(enc.Bytes())
	for i, want := range vals {
		if got := dec.Read(); got != want {
			t.Fatalf("Read() #%d = %d, want %d", i, got, want)
		}
	}
}

func TestUintOptRleRoundtrip(t *testing.T) {
	vals := []uint64{5, 5, 5, 5, 1, 2, 3, 3, 9}
	var enc UintOptRleEncoder
	for _, v := range vals {
		enc.Write(v)
	}
	dec := NewUintOptRleDecoder(enc.Bytes())
	for i, want := range vals {
		if got := dec.Read(); got != want {
			t.Fatalf("Read() #%d = %d, want %d", i, got, want)
		}
	}
}

func TestIntDiffOptRleRoundtrip(t *testing.T) {
	vals := []int64{0, 1, 2, 3, 100, 101, 102, 50, -3, -3, 7}
	var enc IntDiffOptRleEncoder
	for _, v := range vals {
		enc.Write(v)
	}
	dec := NewIntDiffOptRleDecoder(enc.Bytes())
	for i, want := range vals {
		if got := dec.Read(); got != want {
			t.Fatalf("Read() #%d = %d, want %d", i, got, want)
		}
	}
}

func TestStringEncoderRoundtrip(t *testing.T) {
	vals := []string{"", "a", "hello", "héllo", "日本語", "z"}
	var enc StringEncoder
	for _, v := range vals {
		enc.Write(v)
	}
	dec := NewStringDecoder(enc.Bytes())
	for i, want := range vals {
		if got := dec.Read(); got != want {
			t.Fatalf("Read() #%d = %q, want %q", i, got, want)
		}
	}
}

func TestUtf16Len(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{in: "", want: 0},
		{in: "abc", want: 3},
		{in: "héllo", want: 5},
		{in: "日本語", want: 3},
		{in: "a\U0001F600b", want: 4},
	}
	for _, tc := range tests {
		if got := Utf16Len(tc.in); got != tc.want {
			t.Errorf("Utf16Len(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestUtf16Split(t *testing.T) {
	left, right := Utf16Split("abcdef", 2)
	if left != "ab" || right != "cdef" {
		t.Fatalf("Utf16Split = (%q, %q), want (ab, cdef)", left, right)
	}
	left, right = Utf16Split("日本語", 1)
	if left != "日" || right != "本語" {
		t.Fatalf("Utf16Split = (%q, %q), want (日, 本語)", left, right)
	}
}
