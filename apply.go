package weft

import (
	"sort"

	"github.com/weftlab/go-weft/wire"
)

// clientStructRefs is the decoded run of one client's structs, with a
// cursor for the integration driver.
type clientStructRefs struct {
	i    int
	refs []Struct
}

// readClientsStructRefs decodes the struct section of an update into
// per-client runs, clocked from each run's start clock.
func readClientsStructRefs(dec UpdateDecoder, doc *Doc) map[uint64]*clientStructRefs {
	clientRefs := map[uint64]*clientStructRefs{}
	numClients := dec.Rest().ReadVarUint()
	for i := uint64(0); i < numClients; i++ {
		numStructs := dec.Rest().ReadVarUint()
		refs := make([]Struct, 0, numStructs)
		client := dec.ReadClient()
		clock := dec.Rest().ReadVarUint()
		for j := uint64(0); j < numStructs; j++ {
			info := dec.ReadInfo()
			switch info & 0x1f {
			case refGC:
				length := dec.ReadLen()
				refs = append(refs, &GC{id: ID{Client: client, Clock: clock}, length: length})
				clock += length
			case refSkip:
				length := dec.Rest().ReadVarUint()
				refs = append(refs, &Skip{id: ID{Client: client, Clock: clock}, length: length})
				clock += length
			default:
				item := &Item{id: ID{Client: client, Clock: clock}}
				if info&infoOrigin != 0 {
					origin := dec.ReadLeftID()
					item.origin = &origin
				}
				if info&infoRightOrigin != 0 {
					rightOrigin := dec.ReadRightID()
					item.rightOrigin = &rightOrigin
				}
				if info&(infoOrigin|infoRightOrigin) == 0 {
					// Parent info travels only when no origin pins the
					// position.
					if dec.ReadParentInfo() {
						name := dec.ReadString()
						item.parentName = &name
					} else {
						parentID := dec.ReadLeftID()
						item.parentID = &parentID
					}
					if info&infoParentSub != 0 {
						item.parentSub = dec.ReadString()
					}
				}
				item.content = readItemContent(dec, info)
				if item.content.Countable() {
					item.info |= flagCountable
				}
				item.length = item.content.Len()
				refs = append(refs, item)
				clock += item.length
			}
		}
		if len(refs) > 0 {
			clientRefs[client] = &clientStructRefs{refs: refs}
		}
	}
	return clientRefs
}

// integrateStructs drives integration over the decoded runs in causal
// order. Structs whose dependencies are not yet known locally are set
// aside; the remainder comes back re-encoded, with the state vector
// needed to unblock it.
func integrateStructs(txn *Transaction, store *StructStore, clientRefs map[uint64]*clientStructRefs) *pendingUpdate {
	if len(clientRefs) == 0 {
		return nil
	}
	clientIDs := make([]uint64, 0, len(clientRefs))
	for client := range clientRefs {
		clientIDs = append(clientIDs, client)
	}
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i] < clientIDs[j] })

	// nextTarget pops exhausted runs off the id list and returns the run
	// with the highest client id that still has structs, or nil.
	nextTarget := func() *clientStructRefs {
		for len(clientIDs) > 0 {
			target := clientRefs[clientIDs[len(clientIDs)-1]]
			if target.i < len(target.refs) {
				return target
			}
			clientIDs = clientIDs[:len(clientIDs)-1]
		}
		return nil
	}

	curTarget := nextTarget()
	if curTarget == nil {
		return nil
	}

	rest := newStructStore()
	missing := map[uint64]uint64{}
	updateMissing := func(client, clock uint64) {
		if cur, ok := missing[client]; !ok || cur > clock {
			missing[client] = clock
		}
	}

	// stack holds structs blocked on a dependency currently being
	// chased.
	var stack []Struct
	stackHead := curTarget.refs[curTarget.i]
	curTarget.i++
	state := map[uint64]uint64{}

	localState := func(client uint64) uint64 {
		if clock, ok := state[client]; ok {
			return clock
		}
		clock := store.State(client)
		state[client] = clock
		return clock
	}

	// moveStackToRest gives up on the stacked structs: they, and every
	// unread struct of their clients, go to the rest store.
	moveStackToRest := func() {
		for _, st := range stack {
			client := st.ID().Client
			if target, ok := clientRefs[client]; ok {
				target.i--
				rest.clients[client] = append([]Struct(nil), target.refs[target.i:]...)
				delete(clientRefs, client)
				target.i = 0
				target.refs = nil
			} else {
				rest.clients[client] = []Struct{st}
			}
			filtered := clientIDs[:0]
			for _, id := range clientIDs {
				if id != client {
					filtered = append(filtered, id)
				}
			}
			clientIDs = filtered
		}
		stack = stack[:0]
	}

	for {
		if _, isSkip := stackHead.(*Skip); !isSkip {
			id := stackHead.ID()
			local := localState(id.Client)
			if local < id.Clock {
				// A prior struct of the same client is missing.
				stack = append(stack, stackHead)
				updateMissing(id.Client, id.Clock-1)
				moveStackToRest()
			} else {
				offset := local - id.Clock
				if missingClient, blocked := stackHead.missing(txn, store); blocked {
					stack = append(stack, stackHead)
					target := clientRefs[missingClient]
					if target == nil || target.i == len(target.refs) {
						// The dependency is not in this update either.
						updateMissing(missingClient, store.State(missingClient))
						moveStackToRest()
					} else {
						stackHead = target.refs[target.i]
						target.i++
						continue
					}
				} else if offset == 0 || offset < stackHead.Len() {
					stackHead.Integrate(txn, offset)
					state[id.Client] = id.Clock + stackHead.Len()
				}
			}
		}
		if len(stack) > 0 {
			stackHead = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		} else if curTarget != nil && curTarget.i < len(curTarget.refs) {
			stackHead = curTarget.refs[curTarget.i]
			curTarget.i++
		} else {
			curTarget = nextTarget()
			if curTarget == nil {
				break
			}
			stackHead = curTarget.refs[curTarget.i]
			curTarget.i++
		}
	}

	if len(rest.clients) == 0 {
		return nil
	}
	enc := newUpdateEncoderV2()
	writeClientsStructs(enc, rest, StateVector{})
	// No deletes in the deferred remainder.
	enc.Rest().WriteVarUint(0)
	return &pendingUpdate{missing: missing, update: enc.Bytes()}
}

// writeStructs writes client's structs from clock onward, clipping the
// first struct when clock falls inside it.
func writeStructs(enc UpdateEncoder, structs []Struct, client, clock uint64) {
	clock = max(clock, structs[0].ID().Clock)
	start := findIndex(structs, clock)
	enc.Rest().WriteVarUint(uint64(len(structs) - start))
	enc.WriteClient(client)
	enc.Rest().WriteVarUint(clock)
	first := structs[start]
	first.Write(enc, clock-first.ID().Clock)
	for i := start + 1; i < len(structs); i++ {
		structs[i].Write(enc, 0)
	}
}

// writeClientsStructs writes every struct the remote, described by sv,
// has not seen, clients in descending id order.
func writeClientsStructs(enc UpdateEncoder, store *StructStore, sv StateVector) {
	send := StateVector{}
	for client, clock := range sv {
		if store.State(client) > clock {
			send[client] = clock
		}
	}
	for client := range store.StateVector() {
		if _, ok := sv[client]; !ok {
			send[client] = 0
		}
	}
	enc.Rest().WriteVarUint(uint64(len(send)))
	clients := make([]uint64, 0, len(send))
	for client := range send {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	for _, client := range clients {
		writeStructs(enc, store.clients[client], client, send[client])
	}
}

// writeUpdateMessageFromTransaction encodes the transaction's net effect
// as an update message. Returns false when the transaction changed
// nothing.
func writeUpdateMessageFromTransaction(enc UpdateEncoder, txn *Transaction) bool {
	changedState := false
	for client, clock := range txn.afterState {
		if txn.beforeState[client] != clock {
			changedState = true
			break
		}
	}
	if len(txn.deleteSet.clients) == 0 && !changedState {
		return false
	}
	txn.deleteSet.SortAndMerge()
	writeClientsStructs(enc, txn.doc.store, txn.beforeState)
	txn.deleteSet.Write(enc)
	return true
}

func readUpdate(dec UpdateDecoder, doc *Doc, txn *Transaction) {
	store := doc.store
	refs := readClientsStructRefs(dec, doc)
	restStructs := integrateStructs(txn, store, refs)

	retry := false
	if pending := store.pendingStructs; pending != nil {
		for client, clock := range pending.missing {
			if clock < store.State(client) {
				retry = true
				break
			}
		}
		if restStructs != nil {
			for client, clock := range restStructs.missing {
				if cur, ok := pending.missing[client]; !ok || cur > clock {
					pending.missing[client] = clock
				}
			}
			pending.update = mergeUpdates([][]byte{pending.update, restStructs.update}, true)
		}
	} else {
		store.pendingStructs = restStructs
	}

	dsRest := readAndApplyDeleteSet(dec, txn)
	if store.pendingDs != nil {
		pendingDsDec := newUpdateDecoderV2(store.pendingDs)
		pendingDsDec.Rest().ReadVarUint() // zero structs
		dsRest2 := readAndApplyDeleteSet(pendingDsDec, txn)
		switch {
		case dsRest != nil && dsRest2 != nil:
			store.pendingDs = mergeUpdates([][]byte{dsRest, dsRest2}, true)
		case dsRest != nil:
			store.pendingDs = dsRest
		default:
			store.pendingDs = dsRest2
		}
	} else {
		store.pendingDs = dsRest
	}

	if retry {
		update := store.pendingStructs.update
		store.pendingStructs = nil
		applyUpdate(doc, update, nil, true)
	}
}

func applyUpdate(doc *Doc, update []byte, origin any, v2 bool) {
	doc.transact(func(txn *Transaction) {
		var dec UpdateDecoder
		if v2 {
			dec = newUpdateDecoderV2(update)
		} else {
			dec = newUpdateDecoderV1(update)
		}
		readUpdate(dec, doc, txn)
	}, origin, false)
}

// ApplyUpdate integrates a plain-format update into the document. Structs
// with unmet dependencies are parked and retried when later updates fill
// the gap. Corrupt input is reported as an ErrBadUpdate error with the
// document left unchanged up to the corruption point.
func ApplyUpdate(doc *Doc, update []byte, origin any) (err error) {
	defer catchBadUpdate(&err)
	applyUpdate(doc, update, origin, false)
	return nil
}

// ApplyUpdateV2 is ApplyUpdate for the columnar format.
func ApplyUpdateV2(doc *Doc, update []byte, origin any) (err error) {
	defer catchBadUpdate(&err)
	applyUpdate(doc, update, origin, true)
	return nil
}

func encodeStateAsUpdate(doc *Doc, targetSV StateVector, v2 bool) []byte {
	var enc UpdateEncoder
	if v2 {
		enc = newUpdateEncoderV2()
	} else {
		enc = newUpdateEncoderV1()
	}
	writeClientsStructs(enc, doc.store, targetSV)
	deleteSetFromStructStore(doc.store).Write(enc)
	updates := [][]byte{enc.Bytes()}

	// Deferred bytes are stored in the columnar format; fold them in so
	// the receiver sees everything we know about.
	if doc.store.pendingDs != nil {
		updates = append(updates, convertPending(doc.store.pendingDs, v2))
	}
	if doc.store.pendingStructs != nil {
		diffed := diffUpdateBytes(doc.store.pendingStructs.update, targetSV, true)
		updates = append(updates, convertPending(diffed, v2))
	}
	if len(updates) == 1 {
		return updates[0]
	}
	return mergeUpdates(updates, v2)
}

func convertPending(update []byte, v2 bool) []byte {
	if v2 {
		return update
	}
	return convertUpdateFormat(update, true)
}

// EncodeStateAsUpdate encodes everything the peer described by
// encodedTargetSV is missing, as a plain-format update. A nil state
// vector means encode the whole document.
func EncodeStateAsUpdate(doc *Doc, encodedTargetSV []byte) (update []byte, err error) {
	defer catchBadUpdate(&err)
	sv := decodeTargetSV(encodedTargetSV)
	return encodeStateAsUpdate(doc, sv, false), nil
}

// EncodeStateAsUpdateV2 is EncodeStateAsUpdate for the columnar format.
func EncodeStateAsUpdateV2(doc *Doc, encodedTargetSV []byte) (update []byte, err error) {
	defer catchBadUpdate(&err)
	sv := decodeTargetSV(encodedTargetSV)
	return encodeStateAsUpdate(doc, sv, true), nil
}

func decodeTargetSV(encoded []byte) StateVector {
	if len(encoded) == 0 {
		return StateVector{}
	}
	return readStateVector(wire.NewDecoder(encoded))
}
