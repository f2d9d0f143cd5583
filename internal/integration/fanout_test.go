package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gigstream/internal/stream"
	"gigstream/pkg/types"
)

func postNotification(t *testing.T, baseURL, body string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/notifications", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testNotifyToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

// TestFanOut_MixedTransports covers one user with an SSE tab and a WebSocket
// tab next to an unrelated user
func TestFanOut_MixedTransports(t *testing.T) {
	stack := newTestStack(t)
	base := stack.server.URL

	browser := dialSSE(t, base, "u1")
	mobile := dialWS(t, base, "u1")
	other := dialSSE(t, base, "u2")

	expectFrame(t, browser, connectedFrame("u1"))
	expectFrame(t, mobile, connectedFrame("u1"))
	expectFrame(t, other, connectedFrame("u2"))
	stack.waitForConnections(t, "u1", 2)

	resp := postNotification(t, base, `{"userId":"u1","event":"job.updated","payload":{"jobId":"j1"}}`)
	require.JSONEq(t, `{"recipients":2}`, resp)

	want := "event: job.updated\ndata: {\"jobId\":\"j1\"}\n\n"
	expectFrame(t, browser, want)
	expectFrame(t, mobile, want)
	expectSilence(t, other)
}

// TestFanOut_TabLifecycle closes tabs one by one and checks the survivors
// keep receiving until the user has no connections left
func TestFanOut_TabLifecycle(t *testing.T) {
	stack := newTestStack(t)
	base := stack.server.URL
	ctx := context.Background()

	tab1 := dialSSE(t, base, "u1")
	tab2 := dialWS(t, base, "u1")
	expectFrame(t, tab1, connectedFrame("u1"))
	expectFrame(t, tab2, connectedFrame("u1"))
	stack.waitForConnections(t, "u1", 2)

	require.NoError(t, tab1.Close())
	stack.waitForConnections(t, "u1", 1)

	delivery, err := stack.publisher.BidPlaced(ctx, "u1", "j1", "b1")
	require.NoError(t, err)
	require.Equal(t, 1, delivery.Recipients)
	expectFrame(t, tab2, "event: bid.placed\ndata: {\"jobId\":\"j1\",\"bidId\":\"b1\"}\n\n")

	require.NoError(t, tab2.Close())
	stack.waitForConnections(t, "u1", 0)
	require.Equal(t, stream.Stats{}, stack.registry.Stats())

	delivery, err = stack.publisher.BidPlaced(ctx, "u1", "j1", "b2")
	require.NoError(t, err)
	require.Zero(t, delivery.Recipients)
}

// TestFanOut_ConcurrentUsers publishes to many users at once and checks
// every tab sees exactly its own user's event
func TestFanOut_ConcurrentUsers(t *testing.T) {
	stack := newTestStack(t)
	base := stack.server.URL

	const users = 10
	const tabs = 3

	clients := make(map[string][]frameClient, users)
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for i := 0; i < tabs; i++ {
			var c frameClient
			if i%2 == 0 {
				c = dialSSE(t, base, userID)
			} else {
				c = dialWS(t, base, userID)
			}
			expectFrame(t, c, connectedFrame(userID))
			clients[userID] = append(clients[userID], c)
		}
		stack.waitForConnections(t, userID, tabs)
	}

	var wg sync.WaitGroup
	for userID := range clients {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			d, err := stack.publisher.Publish(context.Background(), types.Notification{
				UserID:  userID,
				Event:   types.EventMessageCreated,
				Payload: map[string]string{"threadId": "t-" + userID},
			})
			if err != nil {
				t.Errorf("publish to %s: %v", userID, err)
				return
			}
			if d.Recipients != tabs {
				t.Errorf("publish to %s reached %d tabs, want %d", userID, d.Recipients, tabs)
			}
		}(userID)
	}
	wg.Wait()

	for userID, conns := range clients {
		want := "event: message.created\ndata: {\"threadId\":\"t-" + userID + "\"}\n\n"
		for _, c := range conns {
			expectFrame(t, c, want)
		}
	}
	require.Equal(t, stream.Stats{Owners: users, Connections: users * tabs}, stack.registry.Stats())
}

// TestFanOut_ShutdownClosesEveryTransport mirrors application shutdown
func TestFanOut_ShutdownClosesEveryTransport(t *testing.T) {
	stack := newTestStack(t)
	base := stack.server.URL

	sse := dialSSE(t, base, "u1")
	ws := dialWS(t, base, "u2")
	expectFrame(t, sse, connectedFrame("u1"))
	expectFrame(t, ws, connectedFrame("u2"))

	stack.registry.CloseAll()

	for _, c := range []frameClient{sse, ws} {
		_, err := c.Next(2 * time.Second)
		require.Error(t, err)
		require.NotContains(t, err.Error(), "no frame within", "transport was left open")
	}
	require.Equal(t, stream.Stats{}, stack.registry.Stats())
}
