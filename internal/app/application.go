package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gigstream/internal/api"
	"gigstream/internal/config"
	"gigstream/internal/logging"
	"gigstream/internal/notify"
	"gigstream/internal/ratelimit"
	"gigstream/internal/stream"
	"gigstream/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	registry   *stream.Registry
	limiter    *ratelimit.Limiter
	janitor    *ratelimit.Janitor
	publisher  *notify.Publisher
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// Option customizes construction, mainly for tests
type Option func(*options)

type options struct {
	logOutput io.Writer
	auth      interfaces.Authenticator
}

// WithLogOutput redirects the root logger
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithAuthenticator supplies the session provider that resolves stream
// callers. It takes precedence over auth.trust_user_header.
func WithAuthenticator(auth interfaces.Authenticator) Option {
	return func(o *options) { o.auth = auth }
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Logger → Registry → Limiter → Janitor → Publisher → API → HTTP
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// STEP 1: Root logger; every component gets a tagged child
	logger := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	}, o.logOutput)

	// Identity source for stream callers: an injected provider, then the
	// opt-in header trust, else refuse everyone
	switch {
	case o.auth != nil:
	case cfg.Auth.TrustUserHeader:
		o.auth = interfaces.QueryAuthenticator{}
		logger.Warn().Msg("trusting caller-supplied X-User-ID and user_id; only safe behind an authenticating gateway")
	default:
		o.auth = interfaces.RejectAuthenticator{}
		logger.Warn().Msg("no authenticator configured; stream connections will be refused")
	}
	if cfg.Auth.NotifyToken == "" {
		logger.Warn().Msg("auth.notify_token is empty; POST /api/notifications is disabled")
	}

	proxies, err := ratelimit.NewProxyTrust(cfg.HTTP.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	// STEP 2: Connection registry (fan-out core)
	registry := stream.NewRegistry(logging.Component(logger, "registry"))

	// STEP 3: Rate limiter and its periodic sweep
	limiter := ratelimit.New()
	janitor := ratelimit.NewJanitor(limiter, cfg.RateLimit.SweepInterval, logging.Component(logger, "ratelimit"))

	// STEP 4: Publisher consumed by the internal notification endpoint
	publisher, err := notify.NewPublisher(registry, logging.Component(logger, "notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	// STEP 5: Push-channel handlers
	handlerOpts := stream.HandlerOptions{
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		SinkBuffer:        cfg.Stream.SinkBuffer,
		WriteTimeout:      cfg.Stream.WebSocketWriteTimeout,
		InboundRate:       cfg.Stream.InboundRate,
		InboundBurst:      cfg.Stream.InboundBurst,
	}
	streamLogger := logging.Component(logger, "stream")

	// STEP 6: API server fronting everything
	apiServer := api.NewServer(api.Dependencies{
		Registry:         registry,
		Publisher:        publisher,
		NotifyToken:      cfg.Auth.NotifyToken,
		Limiter:          limiter,
		RateLimit:        cfg.RateLimit,
		TrustedProxies:   proxies,
		StreamHandler:    stream.NewSSEHandler(registry, o.auth, handlerOpts, streamLogger),
		WebSocketHandler: stream.NewWebSocketHandler(registry, o.auth, handlerOpts, streamLogger),
		Logger:           logging.Component(logger, "http"),
	})

	// STEP 7: HTTP server
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		limiter:    limiter,
		janitor:    janitor,
		publisher:  publisher,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Janitor starts first, then the listener is bound before Start returns so
// port conflicts surface as errors here
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	app.logger.Info().Str("addr", app.httpServer.Addr).Msg("starting gigstream")

	// STEP 1: Start the rate-limit sweep
	if err := app.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start rate limit janitor: %w", err)
	}

	// STEP 2: Bind and serve
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.janitor.Stop(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info().Str("addr", ln.Addr().String()).Msg("gigstream started")
	return nil
}

// Done reports a fatal serve error, or is closed after a clean shutdown
func (app *Application) Done() <-chan error {
	return app.serveErr
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Registry → Janitor
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down gigstream")

	var errs []error

	// STEP 1: Stop accepting new connections. Shutdown does not wait for
	// hijacked websockets and long-lived streams only end when their sinks close,
	// so close the registry concurrently.
	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- app.httpServer.Shutdown(ctx) }()

	// STEP 2: Close every live push channel so handlers unwind. Streams accepted
	// just before the listener closed can still register, so repeat until
	// Shutdown returns.
	app.registry.CloseAll()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case err := <-shutdownDone:
			if err != nil {
				app.logger.Error().Err(err).Msg("HTTP server shutdown error")
				errs = append(errs, err)
			}
			waiting = false
		case <-ticker.C:
			app.registry.CloseAll()
		}
	}

	// STEP 3: Stop the sweep
	if err := app.janitor.Stop(ctx); err != nil && !errors.Is(err, ratelimit.ErrJanitorStopped) {
		app.logger.Error().Err(err).Msg("rate limit janitor shutdown error")
		errs = append(errs, err)
	}

	app.logger.Info().Msg("gigstream shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address once started, the configured one before
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// ShutdownTimeout is the configured grace period for Stop
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}

// Publisher exposes the in-process publishing API for embedding callers
func (app *Application) Publisher() *notify.Publisher {
	return app.publisher
}
