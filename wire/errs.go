package wire

import "errors"

var (
	// ErrOutOfBounds is reported when a read runs past the end of the
	// buffer.
	ErrOutOfBounds = errors.New("wire: read out of bounds")
	// ErrOverflow is reported when a variable-length integer does not
	// fit in 64 bits.
	ErrOverflow = errors.New("wire: varint overflow")
	// ErrUnknownTag is reported for an unrecognized value type tag.
	ErrUnknownTag = errors.New("wire: unknown value tag")
)

// Corrupt wraps a decode error raised by Decoder methods. Decoder methods
// panic with *Corrupt on malformed input; package-level entry points that
// accept untrusted bytes recover it and return the wrapped error.
type Corrupt struct {
	Err error
}

func (c *Corrupt) Error() string {
	return "corrupt input: " + c.Err.Error()
}

func (c *Corrupt) Unwrap() error {
	return c.Err
}

func corrupt(err error) {
	panic(&Corrupt{Err: err})
}

// Recover converts a *Corrupt panic into an error assigned to *err. Use in
// a defer around decode paths fed with untrusted bytes.
func Recover(err *error) {
	if r := recover(); r != nil {
		if c, ok := r.(*Corrupt); ok {
			*err = c
			return
		}
		panic(r)
	}
}
