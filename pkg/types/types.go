package types

// ARCHITECTURAL DISCOVERY: Event names are the shared vocabulary between the
// subsystems that publish notifications and the browser clients that consume them
const (
	EventMessageCreated   = "message.created"
	EventBidPlaced        = "bid.placed"
	EventBidUpdated       = "bid.updated"
	EventJobUpdated       = "job.updated"
	EventJobStatusChanged = "job.status_changed"
	EventPaymentUpdated   = "payment.updated"
)

// EventConnected is written once by the stream handlers when a channel opens.
const EventConnected = "connected"

// MaxPayloadBytes caps the encoded size of a single notification payload
const MaxPayloadBytes = 64 * 1024

// Notification is the inbound dispatch request accepted from other subsystems
// FUNCTIONAL DISCOVERY: Payload stays untyped so job, bid and message services
// can push their own shapes without a shared schema
type Notification struct {
	UserID  string `json:"userId" yaml:"userId"`
	Event   string `json:"event" yaml:"event"`
	Payload any    `json:"payload" yaml:"payload"`
}
