package backend

import "errors"

// ErrInvalidRequest reports a record type that is not valid for the
// requested operation: suppressing a TXT or PTR record directly, or
// publishing a type outside the publishable set. It is a caller bug and
// is returned immediately, never retried or swallowed.
var ErrInvalidRequest = errors.New("invalid request for record type")
