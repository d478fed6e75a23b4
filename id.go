package weft

import (
	"fmt"
	"math/rand"
)

// ID addresses a single edit: the client that produced it and that
// client's logical clock at production time. A struct spanning several
// clocks is addressed by the ID of its first clock.
type ID struct {
	Client uint64
	Clock  uint64
}

func NewID(client, clock uint64) ID {
	return ID{Client: client, Clock: clock}
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Clock, id.Client)
}

// sameID compares two optional IDs.
func sameID(a, b *ID) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// newClientID picks a random 32-bit client identifier. Collisions between
// peers are tolerated: they are detected during transaction cleanup and
// healed by picking a fresh id.
func newClientID() uint64 {
	return uint64(rand.Uint32())
}

// StateVector maps a client id to the next clock expected from it,
// summarizing everything a replica has received.
type StateVector map[uint64]uint64

func (sv StateVector) clone() StateVector {
	out := make(StateVector, len(sv))
	for c, k := range sv {
		out[c] = k
	}
	return out
}
