package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"zotalk/config"
	"zotalk/internal/auth"
	"zotalk/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeRealtimeWS upgrades to WebSocket for the realtime channel.
// Identity comes from the `token` query param (JWT) or a bare `user_id`
// param; absence of both yields an anonymous connection.
func UpgradeRealtimeWS(cfg *config.JWTConfig, d *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if token := c.Query("token"); token != "" {
			claims, err := auth.ParseAccessToken(cfg, token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			userID = claims.UserID
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := ws.NewConn(uuid.NewString(), userID, sendBuffer)
		d.HandleConnect(client)
		defer d.HandleDisconnect(client)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		go writePump(client, conn)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var evt ws.Event
			if json.Unmarshal(raw, &evt) != nil || evt.Type == "" {
				continue
			}
			d.HandleEvent(client, evt)
		}
	}
}

// writePump copies queued events to the connection and keeps it alive
// with periodic pings.
func writePump(c *ws.Conn, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
