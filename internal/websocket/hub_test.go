package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dockqueue-backend/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(metrics.NewHub(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func startServer(t *testing.T, hub *Hub) (*httptest.Server, *TokenIssuer) {
	t.Helper()
	tokens := NewTokenIssuer(testSecret, time.Hour)
	srv := httptest.NewServer(HandleWebSocket(hub, tokens))
	t.Cleanup(srv.Close)
	return srv, tokens
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHub_DeliversToChannelSubscribers(t *testing.T) {
	hub := startHub(t)
	srv, tokens := startServer(t, hub)

	queueToken, _, err := tokens.Issue("board", []string{"queue"})
	require.NoError(t, err)
	driverToken, _, err := tokens.Issue("111", []string{"queue", "driver:111"})
	require.NoError(t, err)

	board := dial(t, srv, queueToken)
	driver := dial(t, srv, driverToken)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("queue") == 2 && hub.SubscriberCount("driver:111") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "driver:111", "dock_assigned", map[string]string{"dock": "12"}))
	require.NoError(t, hub.Publish(context.Background(), "queue", "queue_changed", nil))

	var notice struct {
		Channel string            `json:"channel"`
		Event   string            `json:"event"`
		Data    map[string]string `json:"data"`
	}
	readJSON(t, driver, &notice)
	assert.Equal(t, "driver:111", notice.Channel)
	assert.Equal(t, "dock_assigned", notice.Event)
	assert.Equal(t, "12", notice.Data["dock"])

	var changed Message
	readJSON(t, driver, &changed)
	assert.Equal(t, "queue_changed", changed.Event)

	// The board never sees the private notice.
	readJSON(t, board, &changed)
	assert.Equal(t, "queue", changed.Channel)
	assert.Equal(t, "queue_changed", changed.Event)
	assert.False(t, changed.Timestamp.IsZero())
}

func TestHub_ClientControlMessages(t *testing.T) {
	hub := startHub(t)
	srv, tokens := startServer(t, hub)

	token, _, err := tokens.Issue("111", []string{"queue", "driver:111"})
	require.NoError(t, err)
	conn := dial(t, srv, token)

	var r reply
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "ping"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "pong", r.Type)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "subscribe", Channel: "driver:222"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, "driver:222", r.Channel)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "unsubscribe", Channel: "queue"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "unsubscribed", r.Type)
	assert.Equal(t, 0, hub.SubscriberCount("queue"))

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "subscribe", Channel: "queue"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "subscribed", r.Type)
	assert.Equal(t, 1, hub.SubscriberCount("queue"))
}

func TestHandleWebSocket_RejectsBadTokens(t *testing.T) {
	hub := startHub(t)
	srv, _ := startServer(t, hub)

	forged, _, err := NewTokenIssuer("other-secret", time.Hour).Issue("x", []string{"queue"})
	require.NoError(t, err)

	for name, token := range map[string]string{"missing": "", "garbage": "abc", "forged": forged} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/ws?token=" + token)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := &Client{
		ID:      "slow",
		hub:     hub,
		send:    make(chan []byte, 1),
		initial: []string{"queue"},
		allowed: map[string]bool{"queue": true},
	}
	require.True(t, hub.Register(slow))

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, "queue", "queue_changed", nil))
	require.NoError(t, hub.Publish(ctx, "queue", "queue_changed", nil))

	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount("queue"))

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.ErrorIs(t, hub.Publish(context.Background(), "queue", "queue_changed", nil), ErrHubClosed)
	assert.False(t, hub.Register(&Client{ID: "late", send: make(chan []byte, 1)}))
}

func TestHub_PublishWithoutRunnerSaturates(t *testing.T) {
	hub := NewHub(nil)
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.Publish(context.Background(), "queue", "queue_changed", nil)
	}
	assert.ErrorIs(t, err, ErrHubBusy)
}
