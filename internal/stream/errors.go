package stream

import (
	"errors"

	"gigstream/pkg/types"
)

// Registry-related errors
var (
	ErrEmptyOwner = errors.New("connection owner cannot be empty")
	ErrNilSink    = errors.New("connection sink cannot be nil")
	// Frame errors are the notification model's own, so callers match one sentinel
	// whether a bad event was caught by the publisher or by the registry.
	ErrInvalidEventName = types.ErrInvalidEventName
	ErrInvalidPayload   = types.ErrInvalidPayload
)

// Sink-related errors
var (
	ErrSinkClosed = errors.New("sink closed")
	ErrSinkFull   = errors.New("sink buffer full")
)

// Handler-related errors
var (
	ErrStreamingUnsupported = errors.New("response writer does not support streaming")
)
