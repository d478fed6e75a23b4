package weft

// StructStore holds every struct the document has seen, grouped per
// client in clock order. Each client's sequence is gap-free and
// contiguous; append enforces the contract. On top of that it parks at
// most one pending not-yet-integrable update blob and one pending
// delete-set blob.
type StructStore struct {
	clients map[uint64][]Struct

	// pendingStructs holds the re-encoded remainder of updates whose
	// causal dependencies have not arrived, plus the state needed to
	// know when a retry may succeed.
	pendingStructs *pendingUpdate
	// pendingDs holds delete ranges that outran the known state.
	pendingDs []byte
}

type pendingUpdate struct {
	// missing maps a client to the earliest clock still required from
	// it before the update can integrate.
	missing map[uint64]uint64
	update  []byte
}

func newStructStore() *StructStore {
	return &StructStore{clients: map[uint64][]Struct{}}
}

// State returns the next clock expected from client, 0 if unseen.
func (s *StructStore) State(client uint64) uint64 {
	structs := s.clients[client]
	if len(structs) == 0 {
		return 0
	}
	last := structs[len(structs)-1]
	return last.ID().Clock + last.Len()
}

// StateVector summarizes the store: client -> next expected clock.
func (s *StructStore) StateVector() StateVector {
	sv := make(StateVector, len(s.clients))
	for client, structs := range s.clients {
		last := structs[len(structs)-1]
		sv[client] = last.ID().Clock + last.Len()
	}
	return sv
}

// add appends st to its client's sequence. Non-contiguous appends are a
// contract breach by the caller (causal preconditions were not checked)
// and panic.
func (s *StructStore) add(st Struct) {
	id := st.ID()
	structs := s.clients[id.Client]
	if len(structs) > 0 {
		last := structs[len(structs)-1]
		if last.ID().Clock+last.Len() != id.Clock {
			panic("weft: non-contiguous struct append")
		}
	}
	s.clients[id.Client] = append(structs, st)
}

// findIndex locates the struct containing clock within structs. The
// first probe is estimated proportionally from the clock, which hits
// immediately for the common dense case; standard binary search takes
// over otherwise. Absence is a caller contract breach.
func findIndex(structs []Struct, clock uint64) int {
	left := 0
	right := len(structs) - 1
	if right < 0 {
		panic("weft: struct lookup in empty sequence")
	}
	mid := structs[right]
	midClock := mid.ID().Clock
	if midClock == clock {
		return right
	}
	midIndex := 0
	if top := midClock + mid.Len() - 1; top > 0 {
		midIndex = int(clock * uint64(right) / top)
	}
	for left <= right {
		mid = structs[midIndex]
		midClock = mid.ID().Clock
		if midClock <= clock {
			if clock < midClock+mid.Len() {
				return midIndex
			}
			left = midIndex + 1
		} else {
			right = midIndex - 1
		}
		midIndex = (left + right) / 2
	}
	panic("weft: struct not found")
}

// getItem returns the struct containing id.
func (s *StructStore) getItem(id ID) Struct {
	structs := s.clients[id.Client]
	return structs[findIndex(structs, id.Clock)]
}

// getItemCleanStart returns the item starting exactly at id, splitting
// the containing item first when id falls mid-span.
func getItemCleanStart(txn *Transaction, id ID) Struct {
	store := txn.doc.store
	index := findIndexCleanStart(txn, store.clients[id.Client], id.Clock)
	// A mid-span lookup splits and reallocates the client sequence.
	return store.clients[id.Client][index]
}

func findIndexCleanStart(txn *Transaction, structs []Struct, clock uint64) int {
	index := findIndex(structs, clock)
	st := structs[index]
	if item, ok := st.(*Item); ok && st.ID().Clock < clock {
		right := splitItem(txn, item, clock-item.id.Clock)
		txn.doc.store.insertStruct(item.id.Client, index+1, right)
		return index + 1
	}
	return index
}

// getItemCleanEnd returns the struct ending exactly at id, splitting the
// containing item first when id falls mid-span.
func (s *StructStore) getItemCleanEnd(txn *Transaction, id ID) Struct {
	structs := s.clients[id.Client]
	index := findIndex(structs, id.Clock)
	st := structs[index]
	if id.Clock != st.ID().Clock+st.Len()-1 {
		if item, ok := st.(*Item); ok {
			right := splitItem(txn, item, id.Clock-item.id.Clock+1)
			s.insertStruct(id.Client, index+1, right)
		}
	}
	return st
}

// replace swaps an existing struct for its collected form.
func (s *StructStore) replace(old, repl Struct) {
	id := old.ID()
	structs := s.clients[id.Client]
	structs[findIndex(structs, id.Clock)] = repl
}

func (s *StructStore) insertStruct(client uint64, index int, st Struct) {
	seq := append(s.clients[client], nil)
	copy(seq[index+1:], seq[index:])
	seq[index] = st
	s.clients[client] = seq
}

// iterateStructs invokes f for every struct overlapping [clockStart,
// clockStart+length) of one client, splitting boundary items so the
// range is covered exactly.
func iterateStructs(txn *Transaction, client uint64, clockStart, length uint64, f func(Struct)) {
	if length == 0 {
		return
	}
	store := txn.doc.store
	clockEnd := clockStart + length
	index := findIndexCleanStart(txn, store.clients[client], clockStart)
	for {
		structs := store.clients[client]
		if index >= len(structs) {
			break
		}
		st := structs[index]
		if st.ID().Clock >= clockEnd {
			break
		}
		if clockEnd < st.ID().Clock+st.Len() {
			findIndexCleanStart(txn, structs, clockEnd)
		}
		f(st)
		index++
	}
}
