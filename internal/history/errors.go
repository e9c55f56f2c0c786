package history

import "errors"

// ErrStoreUnavailable indicates no history store is configured.
var ErrStoreUnavailable = errors.New("history store unavailable")
