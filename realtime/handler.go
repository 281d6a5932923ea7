package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liamcoop/caseflow/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UserCheck reports whether a user id may subscribe
type UserCheck func(ctx context.Context, userID string) (bool, error)

// Handler upgrades GET ?user_id= requests and registers the connection.
// Pushes are one-way; inbound frames are read only to observe pongs and
// disconnects.
func Handler(hub *Hub, check UserCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		if check != nil {
			ok, err := check(r.Context(), userID)
			if err != nil {
				logger.Error("User lookup failed for websocket", "user_id", userID, "error", err)
				http.Error(w, "user lookup failed", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "unknown user", http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
			return
		}

		client := NewClient(userID, conn)
		hub.Register(client)
		defer hub.Unregister(client)

		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		go client.WritePump()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
