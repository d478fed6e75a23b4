package weft

import "sort"

// deleteRange is a contiguous span of deleted clocks of one client.
type deleteRange struct {
	clock  uint64
	length uint64
}

// DeleteSet tracks deleted clock ranges per client. Ranges accumulate
// append-only; SortAndMerge normalizes before the set is queried or
// written out.
type DeleteSet struct {
	clients map[uint64][]deleteRange
}

func newDeleteSet() *DeleteSet {
	return &DeleteSet{clients: map[uint64][]deleteRange{}}
}

// Add records [clock, clock+length) of client as deleted.
func (ds *DeleteSet) Add(client, clock, length uint64) {
	ds.clients[client] = append(ds.clients[client], deleteRange{clock: clock, length: length})
}

// SortAndMerge normalizes the set: per client, sort by clock and fold
// overlapping or adjacent ranges in a single left-to-right pass.
func (ds *DeleteSet) SortAndMerge() {
	for client, ranges := range ds.clients {
		if len(ranges) == 0 {
			delete(ds.clients, client)
			continue
		}
		sort.Slice(ranges, func(i, j int) bool {
			return ranges[i].clock < ranges[j].clock
		})
		// Merge into the prefix [0, out).
		out := 1
		for i := 1; i < len(ranges); i++ {
			r := ranges[i]
			prev := &ranges[out-1]
			if prev.clock+prev.length >= r.clock {
				if end := r.clock + r.length; end > prev.clock+prev.length {
					prev.length = end - prev.clock
				}
			} else {
				ranges[out] = r
				out++
			}
		}
		ds.clients[client] = ranges[:out]
	}
}

// findRangeIndex locates the range containing clock, -1 if none. The set
// must be normalized. Uses the same clock-proportional first probe as
// struct lookup.
func findRangeIndex(ranges []deleteRange, clock uint64) int {
	left := 0
	right := len(ranges) - 1
	for left <= right {
		midIndex := (left + right) / 2
		mid := ranges[midIndex]
		if mid.clock <= clock {
			if clock < mid.clock+mid.length {
				return midIndex
			}
			left = midIndex + 1
		} else {
			right = midIndex - 1
		}
	}
	return -1
}

// IsDeleted reports whether id lies in a deleted range. The set must be
// normalized.
func (ds *DeleteSet) IsDeleted(id ID) bool {
	ranges := ds.clients[id.Client]
	return ranges != nil && findRangeIndex(ranges, id.Clock) >= 0
}

// iterateDeleted invokes f on every struct covered by the set, splitting
// boundary items as needed. The set must be normalized.
func (ds *DeleteSet) iterateDeleted(txn *Transaction, f func(Struct)) {
	for client, ranges := range ds.clients {
		if txn.doc.store.clients[client] == nil {
			continue
		}
		for _, r := range ranges {
			iterateStructs(txn, client, r.clock, r.length, f)
		}
	}
}

// mergeDeleteSets folds several delete sets into one normalized set. For
// each client, ranges come from the first input set in which the client
// appears plus all of that client's ranges in every later set.
func mergeDeleteSets(dss []*DeleteSet) *DeleteSet {
	merged := newDeleteSet()
	for dssI, ds := range dss {
		for client, ranges := range ds.clients {
			if _, done := merged.clients[client]; done {
				continue
			}
			// This client appears here first: collect its ranges from
			// this and every following set.
			all := append([]deleteRange(nil), ranges...)
			for i := dssI + 1; i < len(dss); i++ {
				all = append(all, dss[i].clients[client]...)
			}
			merged.clients[client] = all
		}
	}
	merged.SortAndMerge()
	return merged
}

// deleteSetFromStructStore snapshots every deleted struct in the store
// into a normalized delete set, coalescing runs of consecutive deleted
// structs.
func deleteSetFromStructStore(store *StructStore) *DeleteSet {
	ds := newDeleteSet()
	for client, structs := range store.clients {
		var ranges []deleteRange
		for i := 0; i < len(structs); i++ {
			st := structs[i]
			if !st.Deleted() {
				continue
			}
			clock := st.ID().Clock
			length := st.Len()
			for i+1 < len(structs) && structs[i+1].Deleted() {
				i++
				length += structs[i].Len()
			}
			ranges = append(ranges, deleteRange{clock: clock, length: length})
		}
		if len(ranges) > 0 {
			ds.clients[client] = ranges
		}
	}
	return ds
}

// Write encodes the set, clients in descending id order. The same
// descending order feeds the integration tie-break, keeping output
// deterministic.
func (ds *DeleteSet) Write(enc DSEncoder) {
	rest := enc.Rest()
	rest.WriteVarUint(uint64(len(ds.clients)))
	clients := make([]uint64, 0, len(ds.clients))
	for client := range ds.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	for _, client := range clients {
		ranges := ds.clients[client]
		enc.ResetDsCurVal()
		rest.WriteVarUint(client)
		rest.WriteVarUint(uint64(len(ranges)))
		for _, r := range ranges {
			enc.WriteDsClock(r.clock)
			enc.WriteDsLen(r.length)
		}
	}
}

func readDeleteSet(dec DSDecoder) *DeleteSet {
	ds := newDeleteSet()
	rest := dec.Rest()
	numClients := rest.ReadVarUint()
	for i := uint64(0); i < numClients; i++ {
		dec.ResetDsCurVal()
		client := rest.ReadVarUint()
		numRanges := rest.ReadVarUint()
		if numRanges == 0 {
			continue
		}
		ranges := make([]deleteRange, 0, numRanges)
		for j := uint64(0); j < numRanges; j++ {
			clock := dec.ReadDsClock()
			ranges = append(ranges, deleteRange{clock: clock, length: dec.ReadDsLen()})
		}
		ds.clients[client] = ranges
	}
	return ds
}

// readAndApplyDeleteSet applies an inbound delete set, splitting boundary
// items and deleting every covered live node. Ranges that outrun local
// state are not an error: they are returned re-encoded so the caller can
// park them for retry.
func readAndApplyDeleteSet(dec DSDecoder, txn *Transaction) []byte {
	unapplied := newDeleteSet()
	store := txn.doc.store
	rest := dec.Rest()
	numClients := rest.ReadVarUint()
	for i := uint64(0); i < numClients; i++ {
		dec.ResetDsCurVal()
		client := rest.ReadVarUint()
		numRanges := rest.ReadVarUint()
		state := store.State(client)
		for j := uint64(0); j < numRanges; j++ {
			clock := dec.ReadDsClock()
			clockEnd := clock + dec.ReadDsLen()
			if clock < state {
				if state < clockEnd {
					unapplied.Add(client, state, clockEnd-state)
				}
				structs := store.clients[client]
				index := findIndex(structs, clock)
				st := structs[index]
				// Split the first item when the range starts mid-span.
				if item, ok := st.(*Item); ok && !item.deleted() && item.id.Clock < clock {
					store.insertStruct(client, index+1, splitItem(txn, item, clock-item.id.Clock))
					index++
				}
				for {
					structs = store.clients[client]
					if index >= len(structs) {
						break
					}
					st = structs[index]
					index++
					if st.ID().Clock >= clockEnd {
						break
					}
					item, ok := st.(*Item)
					if !ok || item.deleted() {
						continue
					}
					if clockEnd < item.id.Clock+item.length {
						store.insertStruct(client, index, splitItem(txn, item, clockEnd-item.id.Clock))
					}
					item.delete(txn)
				}
			} else {
				unapplied.Add(client, clock, clockEnd-clock)
			}
		}
	}
	if len(unapplied.clients) > 0 {
		// Pending delete sets are always parked in the columnar format.
		enc := newUpdateEncoderV2()
		enc.Rest().WriteVarUint(0)
		unapplied.Write(enc)
		return enc.Bytes()
	}
	return nil
}
