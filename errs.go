package weft

import (
	"errors"
	"fmt"

	"github.com/weftlab/go-weft/wire"
)

var (
	// ErrBadUpdate is wrapped by every error returned for malformed
	// update, state-vector or snapshot bytes.
	ErrBadUpdate = errors.New("weft: malformed update")

	// ErrUnknownContent is reported for an unknown content discriminant
	// in an update. The protocol is closed: there is no
	// forward-compatible skip.
	ErrUnknownContent = errors.New("weft: unknown content type")
)

// badUpdate aborts decoding of untrusted bytes. It panics with a
// *wire.Corrupt so the public entry points recover it into an error.
func badUpdate(err error) {
	panic(&wire.Corrupt{Err: err})
}

// catchBadUpdate recovers decode panics into *err, wrapped with
// ErrBadUpdate. Invariant-violation panics (programming errors on
// locally produced state) pass through.
func catchBadUpdate(err *error) {
	if r := recover(); r != nil {
		c, ok := r.(*wire.Corrupt)
		if !ok {
			panic(r)
		}
		*err = fmt.Errorf("%w: %w", ErrBadUpdate, c.Err)
	}
}
