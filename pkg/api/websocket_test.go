package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	if token != "" {
		url += "?token=" + token
	}

	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestWebSocketRejectsAnonymous(t *testing.T) {
	ts := newTestServer(t, nil)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, srv, "not-a-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketDeliversOwnChanges(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ts.srv.hub.Run(ctx)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	token := ts.login("cook@example.com")
	other := ts.login("other@example.com")

	conn, _, err := dialWS(t, srv, token)
	require.NoError(t, err)

	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnected, hello.Type)

	require.Eventually(t, func() bool {
		return ts.srv.hub.ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Changes by another user are not delivered.
	ts.createRecipe(other, sampleRecipe("Not yours"))

	created := ts.createRecipe(token, sampleRecipe("Yours", "Live"))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeChange, msg.Type)
	assert.Equal(t, "recipe_created", msg.Action)
	assert.Equal(t, "recipe", msg.Entity)
	assert.Equal(t, created.ID, msg.EntityID)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Yours", payload["title"])

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return ts.srv.hub.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketPongOnlyToSender(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ts.srv.hub.Run(ctx)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	token := ts.login("cook@example.com")

	first, _, err := dialWS(t, srv, token)
	require.NoError(t, err)

	defer first.Close()

	second, _, err := dialWS(t, srv, token)
	require.NoError(t, err)

	defer second.Close()

	assert.Equal(t, MessageTypeConnected, readMessage(t, first).Type)
	assert.Equal(t, MessageTypeConnected, readMessage(t, second).Type)

	require.Eventually(t, func() bool {
		return ts.srv.hub.ClientCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, first.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, first).Type)

	// The other connection sees the next change, not the pong.
	ts.createRecipe(token, sampleRecipe("Shared"))

	msg := readMessage(t, second)
	assert.Equal(t, MessageTypeChange, msg.Type)
	assert.Equal(t, "recipe_created", msg.Action)
}
