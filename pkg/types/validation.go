package types

import (
	"encoding/json"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	eventNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-64 characters covers the auth provider's opaque
// identifiers while keeping them safe to embed in rate-limit keys and logs
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidEventName reports whether name can be written on an "event:" line.
// Any name matching the pattern is frame-safe; IsKnownEvent is the stricter check.
func IsValidEventName(name string) bool {
	if len(name) < 1 || len(name) > 64 {
		return false
	}
	return eventNameRegex.MatchString(name)
}

// IsKnownEvent checks if the event is one of the marketplace notification types
// ARCHITECTURAL DISCOVERY: Explicit validation prevents undefined event
// names from reaching client event listeners
func IsKnownEvent(name string) bool {
	switch name {
	case EventMessageCreated,
		EventBidPlaced,
		EventBidUpdated,
		EventJobUpdated,
		EventJobStatusChanged,
		EventPaymentUpdated:
		return true
	default:
		return false
	}
}

// ValidatePayload marshals the payload once and enforces the size cap
// TECHNICAL DISCOVERY: Content size check requires marshaling
// which adds overhead but ensures accurate byte count
func ValidatePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if len(data) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}

// Encode validates n and returns its payload encoded once, ready for dispatch
func (n *Notification) Encode() (json.RawMessage, error) {
	if !IsValidUserID(n.UserID) {
		return nil, ErrInvalidUserID
	}
	if !IsValidEventName(n.Event) {
		return nil, ErrInvalidEventName
	}
	if !IsKnownEvent(n.Event) {
		return nil, ErrUnknownEvent
	}
	data, err := ValidatePayload(n.Payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Validate checks a notification request before it is dispatched
func (n *Notification) Validate() error {
	_, err := n.Encode()
	return err
}
