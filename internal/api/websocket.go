package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inn0kenty/mail2mongo/internal/registry"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The endpoint sits behind the operator's proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket upgrades the connection and streams events for the address
// given in the "email" query parameter. A missing address yields a single
// error event before the connection is closed.
func (a *API) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		a.writeEvent(conn, registry.Event{
			Type:    registry.TypeError,
			Payload: registry.ErrorPayload{Msg: "email should be defined"},
		})
		return
	}

	sub, err := a.Registry.Subscribe(email)
	if err != nil {
		a.writeEvent(conn, registry.Event{
			Type:    registry.TypeError,
			Payload: registry.ErrorPayload{Msg: err.Error()},
		})
		return
	}
	defer a.Registry.Unsubscribe(sub)

	a.Log.Printf("Subscriber connected for %s", sub.Address())
	defer a.Log.Printf("Subscriber disconnected for %s", sub.Address())

	// The read loop exists to notice the peer going away; clients are not
	// expected to send anything.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.C():
			if !ok {
				// Dropped by the registry after a stalled delivery.
				return
			}
			if !a.writeEvent(conn, event) {
				return
			}
		case <-gone:
			return
		}
	}
}

func (a *API) writeEvent(conn *websocket.Conn, event registry.Event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(event); err != nil {
		a.Log.Printf("Websocket write failed: %v", err)
		return false
	}
	return true
}
