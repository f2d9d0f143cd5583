package integration

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gigstream/internal/api"
	"gigstream/internal/config"
	"gigstream/internal/notify"
	"gigstream/internal/ratelimit"
	"gigstream/internal/stream"
	"gigstream/pkg/interfaces"
)

// testNotifyToken is the bearer secret the stack's publish endpoint expects
const testNotifyToken = "integration-notify-token"

// testStack is the full HTTP surface on an httptest server
type testStack struct {
	server    *httptest.Server
	registry  *stream.Registry
	publisher *notify.Publisher
}

// newTestStack wires the same components the application does with header
// trust enabled, and a generous rate limit so scenarios are not throttled
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	logger := zerolog.Nop()
	registry := stream.NewRegistry(logger)
	publisher, err := notify.NewPublisher(registry, logger)
	require.NoError(t, err)

	rl := config.DefaultConfig().RateLimit
	rl.Default = ratelimit.Policy{Window: time.Minute, MaxAttempts: 10000}
	rl.Routes[config.RouteNotify] = rl.Default

	opts := stream.DefaultHandlerOptions()
	opts.KeepaliveInterval = time.Hour
	auth := interfaces.QueryAuthenticator{}

	handler := api.NewServer(api.Dependencies{
		Registry:         registry,
		Publisher:        publisher,
		NotifyToken:      testNotifyToken,
		Limiter:          ratelimit.New(),
		RateLimit:        rl,
		StreamHandler:    stream.NewSSEHandler(registry, auth, opts, logger),
		WebSocketHandler: stream.NewWebSocketHandler(registry, auth, opts, logger),
		Logger:           logger,
	})

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})

	return &testStack{server: server, registry: registry, publisher: publisher}
}

// waitForConnections polls until userID has n registered connections
func (s *testStack) waitForConnections(t *testing.T, userID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.registry.ConnectionCount(userID) == n
	}, 2*time.Second, 10*time.Millisecond, "user %s never reached %d connections", userID, n)
}

// frameClient is the common view over SSE and WebSocket test clients
type frameClient interface {
	Next(timeout time.Duration) (string, error)
	Close() error
}

// sseClient reads event-stream frames off a GET /api/stream response
type sseClient struct {
	resp   *http.Response
	frames chan string
	errs   chan error
}

func dialSSE(t *testing.T, baseURL, userID string) *sseClient {
	t.Helper()

	resp, err := http.Get(baseURL + "/api/stream?user_id=" + url.QueryEscape(userID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	c := &sseClient{
		resp:   resp,
		frames: make(chan string, 100),
		errs:   make(chan error, 1),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *sseClient) readLoop() {
	reader := bufio.NewReader(c.resp.Body)
	var b strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.errs <- err
			return
		}
		b.WriteString(line)
		if line == "\n" {
			c.frames <- b.String()
			b.Reset()
		}
	}
}

func (c *sseClient) Next(timeout time.Duration) (string, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return "", err
	case <-time.After(timeout):
		return "", fmt.Errorf("no frame within %s", timeout)
	}
}

func (c *sseClient) Close() error {
	return c.resp.Body.Close()
}

// wsClient receives event-stream frames as WebSocket text messages
type wsClient struct {
	conn   *websocket.Conn
	frames chan string
	errs   chan error

	closeOnce sync.Once
}

func dialWS(t *testing.T, baseURL, userID string) *wsClient {
	t.Helper()

	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"user_id": {userID}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	c := &wsClient{
		conn:   conn,
		frames: make(chan string, 100),
		errs:   make(chan error, 1),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.errs <- err
			return
		}
		c.frames <- string(data)
	}
}

func (c *wsClient) Next(timeout time.Duration) (string, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return "", err
	case <-time.After(timeout):
		return "", fmt.Errorf("no frame within %s", timeout)
	}
}

func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// expectFrame asserts the next frame from c
func expectFrame(t *testing.T, c frameClient, want string) {
	t.Helper()
	got, err := c.Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// expectSilence asserts c receives nothing for a short while
func expectSilence(t *testing.T, c frameClient) {
	t.Helper()
	got, err := c.Next(100 * time.Millisecond)
	require.Error(t, err, "unexpected frame %q", got)
}

func connectedFrame(userID string) string {
	return "event: connected\ndata: {\"userId\":\"" + userID + "\"}\n\n"
}
