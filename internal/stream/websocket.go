package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gigstream/pkg/interfaces"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front of the API.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// wsSink carries event-stream frames as WebSocket text messages
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so a single writer goroutine owns the conn and Send only enqueues
type wsSink struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

func newWSSink(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsSink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSink{
		conn:         conn,
		writeCh:      make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go s.writeLoop()

	return s
}

func (s *wsSink) writeLoop() {
	defer func() { _ = s.Close() }()

	for {
		select {
		case data := <-s.writeCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *wsSink) Send(frame []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrSinkClosed
	default:
	}

	select {
	case s.writeCh <- frame:
		return nil
	case <-s.ctx.Done():
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

func (s *wsSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// WebSocketHandler serves push channels over WebSocket for clients that cannot use SSE
type WebSocketHandler struct {
	registry *Registry
	auth     interfaces.Authenticator
	opts     HandlerOptions
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a WebSocket handler registering channels with registry
func NewWebSocketHandler(registry *Registry, auth interfaces.Authenticator, opts HandlerOptions, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		auth:     auth,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// ServeHTTP authenticates, upgrades and registers the connection, then blocks in
// the read pump until the client disconnects.
// FUNCTIONAL DISCOVERY: Authentication happens before the upgrade so rejected
// callers get a plain HTTP status instead of a half-open socket
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sink := newWSSink(conn, h.opts.SinkBuffer, h.opts.WriteTimeout)
	registered, err := h.registry.AddConnection(ownerID, sink)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", ownerID).Msg("failed to register websocket")
		_ = sink.Close()
		return
	}
	defer func() {
		h.registry.RemoveConnection(registered)
		_ = sink.Close()
	}()

	log := h.logger.With().Str("owner", ownerID).Str("conn", registered.ID()).Logger()
	log.Info().Msg("websocket opened")
	defer func() { log.Info().Msg("websocket closed") }()

	if err := sink.Send(ConnectedFrame(ownerID)); err != nil {
		return
	}

	// TECHNICAL DISCOVERY: Read deadline of two keepalive intervals tolerates
	// one lost pong before the connection is considered dead
	readTimeout := 2 * h.opts.KeepaliveInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(sink)

	// Push-only channel: inbound frames are read to service control messages
	// and discarded. Chatty clients are cut off.
	inbound := rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if !inbound.Allow() {
			log.Warn().Msg("closing websocket: inbound message rate exceeded")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}

// pingLoop is the WebSocket keepalive; a failed ping closes the sink, which
// unblocks the read pump and triggers removal.
func (h *WebSocketHandler) pingLoop(sink *wsSink) {
	ticker := time.NewTicker(h.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sink.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				_ = sink.Close()
				return
			}
		case <-sink.ctx.Done():
			return
		}
	}
}
