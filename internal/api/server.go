package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"gigstream/internal/config"
	"gigstream/internal/notify"
	"gigstream/internal/ratelimit"
	"gigstream/internal/stream"
	"gigstream/pkg/types"
)

// maxRequestBytes leaves room for the envelope around a maximum-size payload
const maxRequestBytes = types.MaxPayloadBytes + 4<<10

// notifyPath is the backend-only publish endpoint
const notifyPath = "/api/notifications"

// Registry interface to avoid tight coupling to stream.Registry implementation
type Registry interface {
	Stats() stream.Stats
}

// Publisher accepts notifications from other subsystems
type Publisher interface {
	Publish(ctx context.Context, n types.Notification) (notify.Delivery, error)
}

// Dependencies are the components the HTTP surface fronts.
// The publish endpoint is mounted only when both Publisher and NotifyToken are set.
type Dependencies struct {
	Registry         Registry
	Publisher        Publisher
	NotifyToken      string
	Limiter          *ratelimit.Limiter
	RateLimit        *config.RateLimitConfig
	TrustedProxies   *ratelimit.ProxyTrust
	StreamHandler    http.Handler
	WebSocketHandler http.Handler
	Logger           zerolog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps      Dependencies
	router    chi.Router
	startedAt time.Time
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(deps Dependencies) *Server {
	if deps.RateLimit == nil {
		deps.RateLimit = config.DefaultConfig().RateLimit
	}
	s := &Server{
		deps:      deps,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS covers the browser-facing routes only; JSON content type only on the JSON
// endpoints since the stream routes answer with text/event-stream or a protocol upgrade.
// RemoteAddr is never rewritten from headers: the limiter resolves clients through
// the configured trusted proxies.
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(s.deps.Logger))
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.With(s.jsonMiddleware).Get("/health", s.healthCheck)

	if s.deps.StreamHandler != nil {
		r.With(s.limit(config.RouteStream)).Method(http.MethodGet, "/api/stream", s.deps.StreamHandler)
	}
	if s.deps.WebSocketHandler != nil {
		r.With(s.limit(config.RouteWebSocket)).Method(http.MethodGet, "/ws", s.deps.WebSocketHandler)
	}
	if s.deps.Publisher != nil && s.deps.NotifyToken != "" {
		r.With(s.limit(config.RouteNotify), s.requireNotifyToken, s.jsonMiddleware).Post(notifyPath, s.publishNotification)
	}
}

// limit guards a route with its configured fixed-window policy
func (s *Server) limit(route string) func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(s.deps.Limiter, route, s.deps.RateLimit.PolicyFor(route), s.deps.TrustedProxies, s.deps.Logger)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type NotificationRequest struct {
	UserID  string          `json:"userId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type NotificationResponse struct {
	Recipients int `json:"recipients"`
}

type HealthResponse struct {
	Status           string       `json:"status"`
	Timestamp        time.Time    `json:"timestamp"`
	Uptime           string       `json:"uptime"`
	Connections      stream.Stats `json:"connections"`
	RateLimitEntries int          `json:"rate_limit_entries"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/notifications - dispatch one event to every
// live connection of a user. Zero recipients is success: the user is offline.
func (s *Server) publishNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, types.ErrPayloadTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	n := types.Notification{UserID: req.UserID, Event: req.Event}
	if len(req.Payload) > 0 {
		n.Payload = req.Payload
	}

	delivery, err := s.deps.Publisher.Publish(r.Context(), n)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrPayloadTooLarge):
			s.sendError(w, err.Error(), http.StatusRequestEntityTooLarge)
		case errors.Is(err, types.ErrInvalidUserID),
			errors.Is(err, types.ErrInvalidEventName),
			errors.Is(err, types.ErrUnknownEvent),
			errors.Is(err, types.ErrInvalidPayload):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.sendError(w, "Request cancelled", http.StatusServiceUnavailable)
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("notification dispatch failed")
			s.sendError(w, "Failed to dispatch notification", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(NotificationResponse{Recipients: delivery.Recipients})
}

// FUNCTIONAL DISCOVERY: GET /health - liveness plus registry and limiter gauges
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Registry != nil {
		response.Connections = s.deps.Registry.Stats()
	}
	if s.deps.Limiter != nil {
		response.RateLimitEntries = s.deps.Limiter.Len()
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// accessLog records one line per request once the handler returns.
// chi's wrapper keeps Flush, Hijack and Unwrap reachable for the stream handlers.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// requireNotifyToken admits only callers presenting the shared bearer secret.
// Runs after the rate limiter so guesses are throttled like any other call.
func (s *Server) requireNotifyToken(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.deps.NotifyToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			hlog.FromRequest(r).Warn().Str("remote", r.RemoteAddr).Msg("notify request rejected: bad or missing token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="gigstream"`)
			s.sendError(w, "Missing or invalid notify token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access to the
// stream and health routes. The publish endpoint is server-to-server and gets
// no CORS headers, so browsers cannot call it cross-origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == notifyPath {
			next.ServeHTTP(w, r)
			return
		}
		// FUNCTIONAL DISCOVERY: Set CORS headers for web client compatibility
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		h.Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		h.Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
