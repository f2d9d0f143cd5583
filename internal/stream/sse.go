package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gigstream/pkg/interfaces"
)

// HandlerOptions carries the transport tunables shared by SSE and WebSocket handlers
type HandlerOptions struct {
	KeepaliveInterval time.Duration
	SinkBuffer        int
	WriteTimeout      time.Duration // WebSocket only
	InboundRate       float64       // WebSocket only: client frames per second
	InboundBurst      int           // WebSocket only
}

// DefaultHandlerOptions returns a 30s keepalive and a 64-frame sink buffer
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		KeepaliveInterval: 30 * time.Second,
		SinkBuffer:        64,
		WriteTimeout:      10 * time.Second,
		InboundRate:       5,
		InboundBurst:      20,
	}
}

func (o HandlerOptions) withDefaults() HandlerOptions {
	def := DefaultHandlerOptions()
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = def.KeepaliveInterval
	}
	if o.SinkBuffer <= 0 {
		o.SinkBuffer = def.SinkBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.InboundRate <= 0 {
		o.InboundRate = def.InboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = def.InboundBurst
	}
	return o
}

// chanSink queues frames for the goroutine that owns the transport
// FUNCTIONAL DISCOVERY: Send never blocks the dispatcher; a saturated buffer is
// treated as a dead client and the registry drops the connection
type chanSink struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newChanSink(buffer int) *chanSink {
	return &chanSink{
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (s *chanSink) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

// Close signals the owning goroutine to stop. frames is never closed so a
// racing Send cannot panic.
func (s *chanSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// SSEHandler serves text/event-stream push channels
type SSEHandler struct {
	registry *Registry
	auth     interfaces.Authenticator
	opts     HandlerOptions
	logger   zerolog.Logger
}

// NewSSEHandler creates an SSE handler registering channels with registry
func NewSSEHandler(registry *Registry, auth interfaces.Authenticator, opts HandlerOptions, logger zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		registry: registry,
		auth:     auth,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// ServeHTTP registers the caller's channel and pumps frames until the client
// goes away, a write fails or the registry closes the sink.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !canFlush(w) {
		http.Error(w, ErrStreamingUnsupported.Error(), http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server-wide write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug().Err(err).Msg("could not clear write deadline")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := newChanSink(h.opts.SinkBuffer)
	conn, err := h.registry.AddConnection(ownerID, sink)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", ownerID).Msg("failed to register stream")
		return
	}
	defer func() {
		h.registry.RemoveConnection(conn)
		_ = sink.Close()
	}()

	log := h.logger.With().Str("owner", ownerID).Str("conn", conn.ID()).Logger()
	log.Info().Msg("stream opened")
	defer func() { log.Info().Msg("stream closed") }()

	write := func(frame []byte) bool {
		if _, err := w.Write(frame); err != nil {
			log.Debug().Err(err).Msg("stream write failed")
			return false
		}
		if err := rc.Flush(); err != nil {
			log.Debug().Err(err).Msg("stream flush failed")
			return false
		}
		return true
	}

	if !write(ConnectedFrame(ownerID)) {
		return
	}

	ticker := time.NewTicker(h.opts.KeepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.done:
			return
		case frame := <-sink.frames:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			if !write(KeepaliveFrame) {
				return
			}
		}
	}
}

// canFlush walks middleware wrappers the same way http.ResponseController does
func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}
