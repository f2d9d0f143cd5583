package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink is the write side of one push channel
// ARCHITECTURAL DISCOVERY: The registry only needs "write chunk, signal closed",
// which keeps it independent of SSE, WebSocket or in-memory test transports
type Sink interface {
	// Send hands a complete frame to the transport without blocking.
	// A non-nil error means the frame was not accepted and the sink is unusable.
	Send(frame []byte) error

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Connection is one registered push channel owned by a single user
type Connection struct {
	id        string
	ownerID   string
	sink      Sink
	createdAt time.Time
}

func (c *Connection) ID() string           { return c.id }
func (c *Connection) OwnerID() string      { return c.ownerID }
func (c *Connection) Sink() Sink           { return c.sink }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Stats is a point-in-time view of the registry size
type Stats struct {
	Owners      int `json:"owners"`
	Connections int `json:"connections"`
}

// Registry tracks live push connections per owner and fans events out to them
// ARCHITECTURAL DISCOVERY: Pure bookkeeping + fan-out; keepalive and transport
// lifecycles stay in the owning handlers so the registry has no timers
type Registry struct {
	mu          sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex lets concurrent dispatches snapshot in parallel
	connections map[string]map[string]*Connection // ownerID -> connID -> Connection
	total       int
	logger      zerolog.Logger
}

// NewRegistry creates an empty registry.
// One instance is owned by the composition root and passed to handlers explicitly.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]map[string]*Connection),
		logger:      logger,
	}
}

// AddConnection registers sink under ownerID and returns the handle used for removal.
// An owner may hold any number of simultaneous connections (tabs, devices).
func (r *Registry) AddConnection(ownerID string, sink Sink) (*Connection, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}
	if sink == nil {
		return nil, ErrNilSink
	}

	conn := &Connection{
		id:        uuid.NewString(),
		ownerID:   ownerID,
		sink:      sink,
		createdAt: time.Now(),
	}

	r.mu.Lock()
	owned, exists := r.connections[ownerID]
	if !exists {
		owned = make(map[string]*Connection)
		r.connections[ownerID] = owned
	}
	owned[conn.id] = conn
	r.total++
	count := len(owned)
	r.mu.Unlock()

	r.logger.Debug().
		Str("owner", ownerID).
		Str("conn", conn.id).
		Int("owner_connections", count).
		Msg("connection added")

	return conn, nil
}

// RemoveConnection unregisters conn. Removing nil, an unknown connection or the
// same connection twice is a no-op. The owner key is dropped with its last connection.
func (r *Registry) RemoveConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	owned, exists := r.connections[conn.ownerID]
	if !exists {
		r.mu.Unlock()
		return
	}
	// Only the exact instance registered under this ID may remove it.
	if owned[conn.id] != conn {
		r.mu.Unlock()
		return
	}
	delete(owned, conn.id)
	r.total--
	if len(owned) == 0 {
		// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
		delete(r.connections, conn.ownerID)
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("owner", conn.ownerID).
		Str("conn", conn.id).
		Msg("connection removed")
}

// Dispatch encodes event/payload once and sends it to every connection of ownerID.
//
// The owner's connection set is copied under the read lock and the lock is
// released before any sink is touched. A failing sink is removed and closed
// without affecting delivery to the others, and the failure is never returned.
// The returned count is the number of sinks that accepted the frame; an owner
// with no connections yields (0, nil). Errors are reserved for an invalid event
// name or an unserializable payload, detected before anything is sent.
func (r *Registry) Dispatch(ownerID, event string, payload any) (int, error) {
	targets := r.snapshot(ownerID)
	if len(targets) == 0 {
		return 0, nil
	}

	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, conn := range targets {
		if err := conn.sink.Send(frame); err != nil {
			r.logger.Warn().
				Err(err).
				Str("owner", ownerID).
				Str("conn", conn.id).
				Str("event", event).
				Msg("dropping connection after failed send")
			r.RemoveConnection(conn)
			_ = conn.sink.Close()
			continue
		}
		delivered++
	}
	return delivered, nil
}

// snapshot copies the owner's connections so iteration never observes concurrent removal
func (r *Registry) snapshot(ownerID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.connections[ownerID]
	if len(owned) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(owned))
	for _, conn := range owned {
		out = append(out, conn)
	}
	return out
}

// ConnectionCount returns how many live connections ownerID holds
func (r *Registry) ConnectionCount(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[ownerID])
}

// OwnerCount returns the number of owners with at least one connection
func (r *Registry) OwnerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns registry statistics for monitoring and debugging
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Owners:      len(r.connections),
		Connections: r.total,
	}
}

// CloseAll closes every sink and empties the registry. Used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*Connection
	for _, owned := range r.connections {
		for _, conn := range owned {
			all = append(all, conn)
		}
	}
	r.connections = make(map[string]map[string]*Connection)
	r.total = 0
	r.mu.Unlock()

	for _, conn := range all {
		if err := conn.sink.Close(); err != nil {
			r.logger.Debug().Err(err).Str("conn", conn.id).Msg("sink close failed during shutdown")
		}
	}
	if len(all) > 0 {
		r.logger.Info().Int("connections", len(all)).Msg("closed all stream connections")
	}
}
