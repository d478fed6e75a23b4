package weft

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var rangeCmp = cmp.AllowUnexported(deleteRange{})

func TestSortAndMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []deleteRange
		want []deleteRange
	}{
		{
			name: "disjoint stay apart",
			in:   []deleteRange{{clock: 10, length: 2}, {clock: 0, length: 3}},
			want: []deleteRange{{clock: 0, length: 3}, {clock: 10, length: 2}},
		},
		{
			name: "adjacent fold",
			in:   []deleteRange{{clock: 3, length: 2}, {clock: 0, length: 3}},
			want: []deleteRange{{clock: 0, length: 5}},
		},
		{
			name: "overlapping fold",
			in:   []deleteRange{{clock: 0, length: 4}, {clock: 2, length: 5}},
			want: []deleteRange{{clock: 0, length: 7}},
		},
		{
			name: "contained range vanishes",
			in:   []deleteRange{{clock: 0, length: 10}, {clock: 2, length: 3}},
			want: []deleteRange{{clock: 0, length: 10}},
		},
		{
			name: "chain of three",
			in:   []deleteRange{{clock: 4, length: 2}, {clock: 0, length: 2}, {clock: 2, length: 2}},
			want: []deleteRange{{clock: 0, length: 6}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := newDeleteSet()
			ds.clients[1] = append([]deleteRange(nil), tt.in...)
			ds.SortAndMerge()
			if d := cmp.Diff(tt.want, ds.clients[1], rangeCmp); d != "" {
				t.Errorf("ranges mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestIsDeleted(t *testing.T) {
	ds := newDeleteSet()
	ds.Add(1, 5, 3)
	ds.Add(1, 20, 1)
	ds.Add(2, 0, 2)
	ds.SortAndMerge()

	tests := []struct {
		id   ID
		want bool
	}{
		{ID{Client: 1, Clock: 4}, false},
		{ID{Client: 1, Clock: 5}, true},
		{ID{Client: 1, Clock: 7}, true},
		{ID{Client: 1, Clock: 8}, false},
		{ID{Client: 1, Clock: 20}, true},
		{ID{Client: 2, Clock: 1}, true},
		{ID{Client: 2, Clock: 2}, false},
		{ID{Client: 3, Clock: 0}, false},
	}
	for _, tt := range tests {
		if got := ds.IsDeleted(tt.id); got != tt.want {
			t.Errorf("IsDeleted(%v) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestFindRangeIndex(t *testing.T) {
	ranges := []deleteRange{{clock: 0, length: 2}, {clock: 5, length: 5}, {clock: 100, length: 1}}
	tests := []struct {
		clock uint64
		want  int
	}{
		{0, 0}, {1, 0}, {2, -1}, {4, -1}, {5, 1}, {9, 1}, {10, -1}, {100, 2}, {101, -1},
	}
	for _, tt := range tests {
		if got := findRangeIndex(ranges, tt.clock); got != tt.want {
			t.Errorf("findRangeIndex(%d) = %d, want %d", tt.clock, got, tt.want)
		}
	}
}

func TestMergeDeleteSetsOrderIndependence(t *testing.T) {
	a := newDeleteSet()
	a.Add(1, 0, 3)
	a.Add(2, 10, 2)
	b := newDeleteSet()
	b.Add(1, 3, 2)
	b.Add(3, 0, 1)
	c := newDeleteSet()
	c.Add(2, 12, 4)

	forward := mergeDeleteSets([]*DeleteSet{a, b, c})
	reverse := mergeDeleteSets([]*DeleteSet{c, b, a})

	want := map[uint64][]deleteRange{
		1: {{clock: 0, length: 5}},
		2: {{clock: 10, length: 6}},
		3: {{clock: 0, length: 1}},
	}
	if d := cmp.Diff(want, forward.clients, rangeCmp); d != "" {
		t.Errorf("forward merge mismatch (-want +got):\n%s", d)
	}
	if d := cmp.Diff(forward.clients, reverse.clients, rangeCmp); d != "" {
		t.Errorf("merge order changed the result (-forward +reverse):\n%s", d)
	}
}

func TestDeleteSetWireRoundtrip(t *testing.T) {
	ds := newDeleteSet()
	ds.Add(9, 100, 50)
	ds.Add(9, 200, 1)
	ds.Add(1, 0, 7)
	ds.SortAndMerge()

	for _, v2 := range []bool{false, true} {
		var enc DSEncoder
		var name string
		if v2 {
			enc, name = newDSEncoderV2(), "v2"
		} else {
			enc, name = newDSEncoderV1(), "v1"
		}
		t.Run(name, func(t *testing.T) {
			ds.Write(enc)
			var dec DSDecoder
			if v2 {
				dec = newDSDecoderV2(enc.Bytes())
			} else {
				dec = newDSDecoderV1(enc.Bytes())
			}
			got := readDeleteSet(dec)
			if d := cmp.Diff(ds.clients, got.clients, rangeCmp); d != "" {
				t.Errorf("roundtrip mismatch (-want +got):\n%s", d)
			}
		})
	}
}

func TestDeleteSetFromStructStore(t *testing.T) {
	doc := NewDoc(WithClientID(4))
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 0, "abcdef")
	})
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").Delete(txn, 1, 2)
	})
	ds := deleteSetFromStructStore(doc.store)
	ranges := ds.clients[4]
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if r := ranges[0]; r.clock != 1 || r.length != 2 {
		t.Fatalf("range = %+v, want clock 1 length 2", r)
	}
}
