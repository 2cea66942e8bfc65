package coordinator

import "errors"

// ErrTimeout is returned by Acquire when the file lock could not be
// obtained within the retry budget, or when the file lock or the
// in-process mutex could not be obtained before the effective timeout (or
// the caller's context) expired.
var ErrTimeout = errors.New("coordinator: timed out acquiring hook lock")
