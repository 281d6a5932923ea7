package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPushWithoutConnectionIsNotDelivered(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.Push("nobody", map[string]string{"x": "y"}))
}

func TestHubDropsFullClient(t *testing.T) {
	hub := NewHub()
	c := NewClient("u1", nil)
	hub.Register(c)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, hub.Send("u1", []byte("m")))
	}
	// The buffer is full and nothing drains it
	assert.False(t, hub.Send("u1", []byte("overflow")))
	assert.Equal(t, 0, hub.Connected("u1"))

	// Closed clients never panic on send
	assert.False(t, c.enqueue([]byte("late")))
}

func TestHandlerDeliversPushes(t *testing.T) {
	hub := NewHub()
	check := func(_ context.Context, id string) (bool, error) { return id == "analyst-1", nil }
	srv := httptest.NewServer(Handler(hub, check))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?user_id=stranger", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?user_id=analyst-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected("analyst-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, hub.Push("analyst-1", map[string]string{"title": "Case escalated"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "Case escalated", got["title"])
}
