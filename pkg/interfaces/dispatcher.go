package interfaces

// Dispatcher delivers one named event to every live connection of an owner
// ARCHITECTURAL DISCOVERY: Publishers depend on this contract rather than the
// registry type so job, bid and message services can be tested without transports
type Dispatcher interface {
	// Dispatch returns the number of connections that accepted the frame.
	// Delivery failures are handled inside the dispatcher and never returned;
	// an error means the event or payload could not be encoded at all.
	Dispatch(ownerID, event string, payload any) (int, error)
}
