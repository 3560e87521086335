package store

import "errors"

// ErrNotFound is returned when a lookup by client id or callback URL finds
// no matching record.
var ErrNotFound = errors.New("store: not found")
