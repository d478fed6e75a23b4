package weft

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// syncDocs exchanges diff updates until both documents carry the same
// state.
func syncDocs(t *testing.T, a, b *Doc) {
	t.Helper()
	forB, err := EncodeStateAsUpdate(a, EncodeStateVector(b))
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	forA, err := EncodeStateAsUpdate(b, EncodeStateVector(a))
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	if err := ApplyUpdate(b, forB, nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if err := ApplyUpdate(a, forA, nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
}

func TestTextInsertAndRead(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 0, "hello")
	})
	doc.Transact(func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 5, " world")
	})
	if got := doc.Get("text").Text(); got != "hello world" {
		t.Fatalf("Text() = %q, want %q", got, "hello world")
	}
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a := NewDoc(WithClientID(1))
	b := NewDoc(WithClientID(2))
	a.Transact(func(txn *Transaction) {
		a.Get("text").InsertText(txn, 0, "AAA")
	})
	b.Transact(func(txn *Transaction) {
		b.Get("text").InsertText(txn, 0, "BBB")
	})
	syncDocs(t, a, b)
	gotA := a.Get("text").Text()
	gotB := b.Get("text").Text()
	if gotA != gotB {
		t.Fatalf("documents diverged: %q vs %q", gotA, gotB)
	}
	// Same origin, so the lower client id sorts first.
	if gotA != "AAABBB" {
		t.Fatalf("Text() = %q, want %q", gotA, "AAABBB")
	}
}

func TestConcurrentEditsAroundSharedContext(t *testing.T) {
	a := NewDoc(WithClientID(1))
	b := NewDoc(WithClientID(2))
	a.Transact(func(txn *Transaction) {
		a.Get("text").InsertText(txn, 0, "base")
	})
	syncDocs(t, a, b)

	a.Transact(func(txn *Transaction) {
		a.Get("text").InsertText(txn, 4, "-left")
	})
	b.Transact(func(txn *Transaction) {
		b.Get("text").Delete(txn, 0, 2)
	})
	syncDocs(t, a, b)
	gotA := a.Get("text").Text()
	gotB := b.Get("text").Text()
	if gotA != gotB {
		t.Fatalf("documents diverged: %q vs %q", gotA, gotB)
	}
	if gotA != "se-left" {
		t.Fatalf("Text() = %q, want %q", gotA, "se-left")
	}
}

func TestApplyUpdateIdempotent(t *testing.T) {
	src := NewDoc(WithClientID(1))
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "idempotent")
	})
	update, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	dst := NewDoc(WithClientID(2))
	for i := 0; i < 3; i++ {
		if err := ApplyUpdate(dst, update, nil); err != nil {
			t.Fatalf("ApplyUpdate #%d: %v", i, err)
		}
	}
	if got := dst.Get("text").Text(); got != "idempotent" {
		t.Fatalf("Text() = %q, want %q", got, "idempotent")
	}
	if d := cmp.Diff(src.store.StateVector(), dst.store.StateVector()); d != "" {
		t.Errorf("state vector mismatch (-src +dst):\n%s", d)
	}
}

func TestOutOfOrderDeliveryIsParked(t *testing.T) {
	src := NewDoc(WithClientID(1))
	var updates [][]byte
	src.OnUpdate(func(update []byte, origin any, txn *Transaction) {
		updates = append(updates, update)
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "first")
	})
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 5, " second")
	})
	if len(updates) != 2 {
		t.Fatalf("captured %d updates, want 2", len(updates))
	}

	dst := NewDoc(WithClientID(2))
	if err := ApplyUpdate(dst, updates[1], nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if got := dst.Get("text").Text(); got != "" {
		t.Fatalf("Text() after gap = %q, want empty", got)
	}
	if dst.store.pendingStructs == nil {
		t.Fatal("expected parked structs for the causal gap")
	}
	if err := ApplyUpdate(dst, updates[0], nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if got := dst.Get("text").Text(); got != "first second" {
		t.Fatalf("Text() = %q, want %q", got, "first second")
	}
	if dst.store.pendingStructs != nil {
		t.Fatal("parked structs should have been drained")
	}
}

func TestDeleteConvergesAndSurvivesResync(t *testing.T) {
	a := NewDoc(WithClientID(1))
	a.Transact(func(txn *Transaction) {
		a.Get("text").InsertText(txn, 0, "abcdef")
	})
	a.Transact(func(txn *Transaction) {
		a.Get("text").Delete(txn, 2, 2)
	})
	if got := a.Get("text").Text(); got != "abef" {
		t.Fatalf("Text() = %q, want %q", got, "abef")
	}

	update, err := EncodeStateAsUpdate(a, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}
	b := NewDoc(WithClientID(2))
	if err := ApplyUpdate(b, update, nil); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if got := b.Get("text").Text(); got != "abef" {
		t.Fatalf("replica Text() = %q, want %q", got, "abef")
	}
}

func TestConcurrentMapSetsConverge(t *testing.T) {
	a := NewDoc(WithClientID(1))
	b := NewDoc(WithClientID(2))
	a.Transact(func(txn *Transaction) {
		a.Get("cfg").SetKey(txn, "color", "red")
	})
	b.Transact(func(txn *Transaction) {
		b.Get("cfg").SetKey(txn, "color", "blue")
	})
	syncDocs(t, a, b)
	va, okA := a.Get("cfg").GetKey("color")
	vb, okB := b.Get("cfg").GetKey("color")
	if !okA || !okB {
		t.Fatal("key missing after sync")
	}
	if va != vb {
		t.Fatalf("map diverged: %v vs %v", va, vb)
	}
}

func TestMapOperations(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	cfg := doc.Get("cfg")
	doc.Transact(func(txn *Transaction) {
		cfg.SetKey(txn, "n", int64(3))
		cfg.SetKey(txn, "s", "x")
	})
	doc.Transact(func(txn *Transaction) {
		cfg.SetKey(txn, "n", int64(4))
		cfg.DeleteKey(txn, "s")
	})
	if v, ok := cfg.GetKey("n"); !ok || v != int64(4) {
		t.Fatalf("GetKey(n) = (%v, %v), want (4, true)", v, ok)
	}
	if _, ok := cfg.GetKey("s"); ok {
		t.Fatal("GetKey(s) should report deleted")
	}
	want := map[string]any{"n": int64(4)}
	if d := cmp.Diff(want, cfg.Keys()); d != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", d)
	}
}

func TestListOperations(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	list := doc.Get("list")
	doc.Transact(func(txn *Transaction) {
		list.InsertAt(txn, 0, int64(1), int64(2), int64(3))
	})
	doc.Transact(func(txn *Transaction) {
		list.InsertAt(txn, 1, "mid")
		list.Delete(txn, 3, 1)
	})
	want := []any{int64(1), "mid", int64(2)}
	if d := cmp.Diff(want, list.Slice()); d != "" {
		t.Errorf("Slice() mismatch (-want +got):\n%s", d)
	}
	if list.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", list.Len())
	}
}

func TestObserverReportsChanges(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	cfg := doc.Get("cfg")
	var events []*Event
	unobserve := cfg.Observe(func(e *Event) { events = append(events, e) })

	doc.Transact(func(txn *Transaction) {
		cfg.SetKey(txn, "a", int64(1))
		cfg.InsertAt(txn, 0, "x")
	})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if !e.ListChanged() {
		t.Error("ListChanged() = false, want true")
	}
	if _, ok := e.Keys()["a"]; !ok {
		t.Errorf("Keys() = %v, want to contain a", e.Keys())
	}

	unobserve()
	doc.Transact(func(txn *Transaction) {
		cfg.SetKey(txn, "b", int64(2))
	})
	if len(events) != 1 {
		t.Fatal("observer fired after unobserve")
	}
}

func TestDeepObserverPath(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	root := doc.Get("root")
	nested := NewBranch(TypeText)
	doc.Transact(func(txn *Transaction) {
		root.SetKey(txn, "t", nested)
	})

	var got [][]any
	root.ObserveDeep(func(events []*Event) {
		for _, e := range events {
			got = append(got, e.Path())
		}
	})
	doc.Transact(func(txn *Transaction) {
		nested.InsertText(txn, 0, "deep")
	})
	want := [][]any{{"t"}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("deep event paths mismatch (-want +got):\n%s", d)
	}
}

func TestRemoteUpdateIsNotLocal(t *testing.T) {
	src := NewDoc(WithClientID(1))
	src.Transact(func(txn *Transaction) {
		src.Get("text").InsertText(txn, 0, "x")
	})
	update, err := EncodeStateAsUpdate(src, nil)
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	dst := NewDoc(WithClientID(2))
	var locals []bool
	dst.OnAfterTransaction(func(txn *Transaction) {
		locals = append(locals, txn.Local())
	})
	if err := ApplyUpdate(dst, update, "peer-1"); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if d := cmp.Diff([]bool{false}, locals); d != "" {
		t.Errorf("Local() flags mismatch (-want +got):\n%s", d)
	}
}

func TestUpdateOriginPropagates(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	var origins []any
	doc.OnUpdate(func(update []byte, origin any, txn *Transaction) {
		origins = append(origins, origin)
	})
	doc.TransactWithOrigin("editor", func(txn *Transaction) {
		doc.Get("text").InsertText(txn, 0, "x")
	})
	if d := cmp.Diff([]any{"editor"}, origins); d != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", d)
	}
}

func TestConcurrentDeletesConvergeToOneRange(t *testing.T) {
	a := NewDoc(WithClientID(1))
	a.Transact(func(txn *Transaction) {
		a.Get("list").InsertAt(txn, 0, "a", "b", "c")
	})
	b := NewDoc(WithClientID(2))
	syncDocs(t, a, b)

	// Both replicas delete the middle element concurrently.
	a.Transact(func(txn *Transaction) {
		a.Get("list").Delete(txn, 1, 1)
	})
	b.Transact(func(txn *Transaction) {
		b.Get("list").Delete(txn, 1, 1)
	})
	syncDocs(t, a, b)

	want := []any{"a", "c"}
	if d := cmp.Diff(want, a.Get("list").Slice()); d != "" {
		t.Errorf("a Slice() mismatch (-want +got):\n%s", d)
	}
	if d := cmp.Diff(a.Get("list").Slice(), b.Get("list").Slice()); d != "" {
		t.Errorf("replicas diverged (-a +b):\n%s", d)
	}
	for name, doc := range map[string]*Doc{"a": a, "b": b} {
		ds := deleteSetFromStructStore(doc.store)
		ranges := ds.clients[1]
		if len(ds.clients) != 1 || len(ranges) != 1 {
			t.Errorf("%s: delete set = %v, want one range for client 1", name, ds.clients)
			continue
		}
		if ranges[0].clock != 1 || ranges[0].length != 1 {
			t.Errorf("%s: deleted range = %+v, want {clock:1 length:1}", name, ranges[0])
		}
	}
}

func TestObserverPanicDoesNotStarveOthers(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	cfg := doc.Get("cfg")
	var fired []string
	cfg.Observe(func(*Event) { panic("first observer") })
	cfg.Observe(func(*Event) { fired = append(fired, "second") })

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the observer panic to surface")
			}
		}()
		doc.Transact(func(txn *Transaction) {
			cfg.SetKey(txn, "k", int64(1))
		})
	}()
	if d := cmp.Diff([]string{"second"}, fired); d != "" {
		t.Errorf("observers fired mismatch (-want +got):\n%s", d)
	}
}

func TestDeepObserverPanicDoesNotStarveOthers(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	cfg := doc.Get("cfg")
	var fired []string
	cfg.ObserveDeep(func([]*Event) { panic("first deep observer") })
	cfg.ObserveDeep(func([]*Event) { fired = append(fired, "second") })

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the deep observer panic to surface")
			}
		}()
		doc.Transact(func(txn *Transaction) {
			cfg.SetKey(txn, "k", int64(1))
		})
	}()
	if d := cmp.Diff([]string{"second"}, fired); d != "" {
		t.Errorf("deep observers fired mismatch (-want +got):\n%s", d)
	}
}

func TestBeforeObserverCallsPhaseOrder(t *testing.T) {
	doc := NewDoc(WithClientID(1))
	cfg := doc.Get("cfg")
	var order []string
	doc.OnBeforeObserverCalls(func(*Transaction) { order = append(order, "before") })
	cfg.Observe(func(*Event) { order = append(order, "observer") })
	doc.OnAfterTransaction(func(*Transaction) { order = append(order, "after") })

	doc.Transact(func(txn *Transaction) {
		cfg.SetKey(txn, "k", int64(1))
	})
	if d := cmp.Diff([]string{"before", "observer", "after"}, order); d != "" {
		t.Errorf("phase order mismatch (-want +got):\n%s", d)
	}
}
