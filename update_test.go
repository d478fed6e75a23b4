package weft

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func captureUpdates(doc *Doc) *[][]byte {
	updates := &[][]byte{}
	doc.OnUpdate(func(update []byte, origin any, txn *Transaction) {
		*updates = append(*updates, update)
	})
	return updates
}

func applyAll(t *testing.T, doc *Doc, updates ...[]byte) {
	t.Helper()
	for i, update := range updates {
		if err := ApplyUpdate(doc, update, nil); err != nil {
			t.Fatalf("ApplyUpdate #%d: %v", i, err)
		}
	}
}

func TestMergeUpdatesEquivalentToSequentialApply(t *testing.T) {
	src := NewDoc(WithClientID(1))
	updates := captureUpdates(src)
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "one")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 3, " two")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").Delete(txn, 0, 1)
	})

	sequential := NewDoc(WithClientID(2))
	applyAll(t, sequential, *updates...)

	merged, err := MergeUpdates(*updates)
	if err != nil {
		t.Fatalf("MergeUpdates: %v", err)
	}
	atOnce := NewDoc(WithClientID(3))
	applyAll(t, atOnce, merged)

	if gotSeq, gotMerged := sequential.Get("text").Text(), atOnce.Get("text").Text(); gotSeq != gotMerged {
		t.Fatalf("merged apply diverged: %q vs %q", gotSeq, gotMerged)
	}
	seqState, err := EncodeStateAsUpdate(sequential, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	mergedState, err := EncodeStateAsUpdate(atOnce, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	if d := cmp.Diff(seqState, mergedState); d != "" {
		t.Errorf("state update mismatch (-sequential +merged):\n%s", d)
	}
}

func TestMergeUpdatesBridgesGapsWithSkips(t *testing.T) {
	src := NewDoc(WithClientID(1))
	updates := captureUpdates(src)
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "aaa")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 3, "bbb")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 6, "ccc")
	})

	// Merge first and third: the middle span must surface as a skip.
	merged, err := MergeUpdates([][]byte{(*updates)[0], (*updates)[2]})
	if err != nil {
		t.Fatalf("MergeUpdates: %v", err)
	}
	info, err := InspectUpdate(merged, false)
	if err != nil {
		t.Fatalf("InspectUpdate: %v", err)
	}
	foundSkip := false
	for _, si := range info.Structs {
		if si.Kind == "skip" {
			foundSkip = true
		}
	}
	if !foundSkip {
		t.Fatal("merged update with a gap carries no skip struct")
	}

	// The merged update still applies: the first span lands, the third
	// stays parked until the middle is delivered.
	dst := NewDoc(WithClientID(2))
	applyAll(t, dst, merged)
	if got := dst.Get("text").Text(); got != "aaa" {
		t.Fatalf("Text() = %q, want %q", got, "aaa")
	}
	applyAll(t, dst, (*updates)[1])
	if got := dst.Get("text").Text(); got != "aaabbbccc" {
		t.Fatalf("Text() = %q, want %q", got, "aaabbbccc")
	}
}

func TestStateVectorFromUpdateMatchesDocument(t *testing.T) {
	doc := NewDoc(WithClientID(7))
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 0, "vector")
	})
	update, err := EncodeStateAsUpdate(doc, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	fromUpdate, err := EncodeStateVectorFromUpdate(update)
	if err != nil {
		t.Fatalf("EncodeStateVectorFromUpdate: %v", err)
	}
	if d := cmp.Diff(EncodeStateVector(doc), fromUpdate); d != "" {
		t.Errorf("state vector mismatch (-doc +update):\n%s", d)
	}
}

func TestStateVectorFromUpdateStopsAtGap(t *testing.T) {
	src := NewDoc(WithClientID(1))
	updates := captureUpdates(src)
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "aa")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 2, "bb")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 4, "cc")
	})
	merged, err := MergeUpdates([][]byte{(*updates)[0], (*updates)[2]})
	if err != nil {
		t.Fatalf("MergeUpdates: %v", err)
	}
	encoded, err := EncodeStateVectorFromUpdate(merged)
	if err != nil {
		t.Fatalf("EncodeStateVectorFromUpdate: %v", err)
	}
	sv, err := DecodeStateVector(encoded)
	if err != nil {
		t.Fatalf("DecodeStateVector: %v", err)
	}
	// Only the contiguous prefix counts.
	if d := cmp.Diff(StateVector{1: 2}, sv); d != "" {
		t.Errorf("state vector mismatch (-want +got):\n%s", d)
	}
}

func TestDiffUpdateStripsKnownState(t *testing.T) {
	src := NewDoc(WithClientID(1))
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "shared")
	})
	shared, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	sharedSV, err := EncodeStateVectorFromUpdate(shared)
	if err != nil {
		t.Fatalf("EncodeStateVectorFromUpdate: %v", err)
	}
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 6, " extra")
	})
	full, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	diffed, err := DiffUpdate(full, sharedSV)
	if err != nil {
		t.Fatalf("DiffUpdate: %v", err)
	}
	dst := NewDoc(WithClientID(2))
	applyAll(t, dst, shared, diffed)
	if got := dst.Get("text").Text(); got != "shared extra" {
		t.Fatalf("Text() = %q, want %q", got, "shared extra")
	}
}

func TestConvertUpdateFormatRoundtrip(t *testing.T) {
	src := NewDoc(WithClientID(1))
	src.Transact(func(txn *Transaction) {
		text := src.Get("text")
		text.InsertText(txn, 0, "convert me")
		cfg := src.Get("cfg")
		cfg.SetKey(txn, "n", int64(9))
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").Delete(txn, 0, 2)
	})
	v1, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	v2, err := ConvertUpdateFormatV1ToV2(v1)
	if err != nil {
		t.Fatalf("ConvertUpdateFormatV1ToV2: %v", err)
	}
	viaV2 := NewDoc(WithClientID(2))
	if err := ApplyUpdateV2(viaV2, v2, nil); err != nil {
		t.Fatalf("ApplyUpdateV2: %v", err)
	}
	if got := viaV2.Get("text").Text(); got != "nvert me" {
		t.Fatalf("Text() via columnar = %q, want %q", got, "nvert me")
	}

	back, err := ConvertUpdateFormatV2ToV1(v2)
	if err != nil {
		t.Fatalf("ConvertUpdateFormatV2ToV1: %v", err)
	}
	viaV1 := NewDoc(WithClientID(3))
	applyAll(t, viaV1, back)
	if got := viaV1.Get("text").Text(); got != "nvert me" {
		t.Fatalf("Text() after roundtrip = %q, want %q", got, "nvert me")
	}
	if v, ok := viaV1.Get("cfg").GetKey("n"); !ok || v != int64(9) {
		t.Fatalf("GetKey(n) = (%v, %v), want (9, true)", v, ok)
	}
}

func TestUpdateV2Emission(t *testing.T) {
	src := NewDoc(WithClientID(1))
	var updates [][]byte
	src.OnUpdateV2(func(update []byte, origin any, txn *Transaction) {
		updates = append(updates, update)
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "columnar")
	})
	if len(updates) != 1 {
		t.Fatalf("captured %d updates, want 1", len(updates))
	}
	dst := NewDoc(WithClientID(2))
	if err := ApplyUpdateV2(dst, updates[0], nil); err != nil {
		t.Fatalf("ApplyUpdateV2: %v", err)
	}
	if got := dst.Get("text").Text(); got != "columnar" {
		t.Fatalf("Text() = %q, want %q", got, "columnar")
	}
}

func TestInspectUpdateListsStructsAndDeletes(t *testing.T) {
	src := NewDoc(WithClientID(5))
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "abc")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").Delete(txn, 0, 1)
	})
	update, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	info, err := InspectUpdate(update, false)
	if err != nil {
		t.Fatalf("InspectUpdate: %v", err)
	}
	if len(info.Structs) == 0 {
		t.Fatal("no structs decoded")
	}
	for _, si := range info.Structs {
		if si.ID.Client != 5 {
			t.Errorf("struct %v from unexpected client", si.ID)
		}
	}
	if len(info.Deletes) != 1 {
		t.Fatalf("got %d delete ranges, want 1", len(info.Deletes))
	}
	del := info.Deletes[0]
	if del.Client != 5 || del.Len != 1 {
		t.Fatalf("delete range = %+v, want client 5 len 1", del)
	}
}

func TestApplyUpdateRejectsCorruptInput(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	corrupt := []byte{0xff, 0x01, 0x02}
	if err := ApplyUpdate(doc, corrupt, nil); err == nil {
		t.Fatal("ApplyUpdate accepted corrupt input")
	}
	if _, err := InspectUpdate([]byte{0x03}, false); err == nil {
		t.Fatal("InspectUpdate accepted truncated input")
	}
}
