package weft

import "testing"

func TestSnapshotEqualAndContains(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 0, "abc")
	})
	before := TakeSnapshot(doc)
	again := TakeSnapshot(doc)
	if !before.Equal(again) {
		t.Fatal("snapshots of the same version are not equal")
	}

	doc.Transact(func(txn *Transaction) {
		doc.Get("text").Delete(txn, 0, 1)
	})
	after := TakeSnapshot(doc)
	if before.Equal(after) {
		t.Fatal("snapshot ignored a delete")
	}

	if !after.Contains((ID{Client: 1, Clock: 2})) {
		t.Error("snapshot does not contain a clock it covers")
	}
	if after.Contains((ID{Client: 1, Clock: 3})) {
		t.Error("snapshot contains a clock beyond its state vector")
	}
	if after.Contains((ID{Client: 2, Clock: 0})) {
		t.Error("snapshot contains an unknown client")
	}
}

func TestSnapshotEncodeDecodeRoundtrip(t *testing.T) {
	doc := NewDoc(WithClientID(3))
	doc.Transact(func(txn *Transaction) {
		text := doc.Get("text")
		text.InsertText(txn, 0, "roundtrip")
		doc.Get("meta").SetKey(txn, "k", "v")
	})
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").Delete(txn, 2, 3)
	})
	snap := TakeSnapshot(doc)

	tests := []struct {
		name   string
		encode func(*Snapshot) []byte
		decode func([]byte) (*Snapshot, error)
	}{
		{"v1", EncodeSnapshot, DecodeSnapshot},
		{"v2", EncodeSnapshotV2, DecodeSnapshotV2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.decode(tt.encode(snap))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !snap.Equal(got) {
				t.Errorf("decoded snapshot differs: sv %v vs %v", snap.StateVector(), got.StateVector())
			}
		})
	}
}

func TestDecodeSnapshotRejectsTruncatedInput(t *testing.T) {
	if _, err := DecodeSnapshot([]byte{0x05}); err == nil {
		t.Fatal("DecodeSnapshot accepted truncated input")
	}
	if _, err := DecodeSnapshotV2([]byte{0x05, 0x01}); err == nil {
		t.Fatal("DecodeSnapshotV2 accepted truncated input")
	}
}
