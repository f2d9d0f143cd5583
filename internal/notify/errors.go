package notify

import "errors"

// Publisher-specific error types
var (
	ErrNilDispatcher = errors.New("publisher requires a dispatcher")
)
