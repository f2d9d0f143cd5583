package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID    = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidEventName = errors.New("event name must be 1-64 characters without whitespace")
	ErrUnknownEvent     = errors.New("unknown notification event")
	ErrInvalidPayload   = errors.New("payload is not JSON serializable")
	ErrPayloadTooLarge  = errors.New("payload exceeds 64KB limit")
)
