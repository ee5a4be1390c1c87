package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inn0kenty/mail2mongo/internal/mail"
	"github.com/inn0kenty/mail2mongo/internal/registry"
)

// wireEvent is the shape a subscriber sees on the wire.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event wireEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebsocketRequiresEmailParameter(t *testing.T) {
	t.Parallel()

	a := newTestAPI()
	server := httptest.NewServer(a.Routes())
	defer server.Close()

	conn := dial(t, server, "")

	event := readEvent(t, conn)
	assert.Equal(t, registry.TypeError, event.Type)

	var payload registry.ErrorPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "email should be defined", payload.Msg)

	// The server closes the connection after the error event.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Zero(t, a.Registry.Len())
}

func TestWebsocketDeliversPublishedRecords(t *testing.T) {
	t.Parallel()

	a := newTestAPI()
	server := httptest.NewServer(a.Routes())
	defer server.Close()

	conn := dial(t, server, "?email=foo@example.com")

	require.Eventually(t, func() bool { return a.Registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	record := &mail.Record{
		From:      "sender@remote.com",
		To:        "foo@example.com",
		Subject:   "Hi",
		Text:      "Bye",
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
	a.Registry.Publish(record)

	event := readEvent(t, conn)
	assert.Equal(t, registry.TypeNewMail, event.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "sender@remote.com", payload["from"])
	assert.Equal(t, "foo@example.com", payload["to"])
	assert.Equal(t, "Hi", payload["subject"])
	assert.Equal(t, "Bye", payload["text"])
	assert.Equal(t, "2024-05-01T12:30:00Z", payload["timestamp"])
}

func TestWebsocketMultipleViewersOfOneMailbox(t *testing.T) {
	t.Parallel()

	a := newTestAPI()
	server := httptest.NewServer(a.Routes())
	defer server.Close()

	first := dial(t, server, "?email=foo@example.com")
	second := dial(t, server, "?email=foo@example.com")

	require.Eventually(t, func() bool { return a.Registry.Len() == 2 },
		time.Second, 10*time.Millisecond)

	a.Registry.Publish(&mail.Record{To: "foo@example.com", Subject: "Hi"})

	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		assert.Equal(t, registry.TypeNewMail, event.Type)
	}
}

func TestWebsocketCloseUnsubscribes(t *testing.T) {
	t.Parallel()

	a := newTestAPI()
	server := httptest.NewServer(a.Routes())
	defer server.Close()

	conn := dial(t, server, "?email=foo@example.com")
	require.Eventually(t, func() bool { return a.Registry.Len() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return a.Registry.Len() == 0 },
		time.Second, 10*time.Millisecond)
}
