package wire

import "errors"

// errFrameBounds is returned internally when a length prefix would
// overflow the declared frame bounds.
var errFrameBounds = errors.New("wire: frame field length overflows declared frame bounds")
