package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/zaloga/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 << 10,
	// Devices aren't browsers; the bearer token is the only credential.
	CheckOrigin: func(*http.Request) bool { return true },
}

// SubscribeHandler streams collection snapshots over a websocket.
type SubscribeHandler struct {
	Hub *Hub
}

// Subscribe handles GET /api/subscribe. Every message is a full snapshot
// {revision, items}; the first one is sent as soon as the socket opens.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := h.Hub.Register()
	defer h.Hub.Unregister(client.ID)
	log.Info("subscriber connected", "client", client.ID, "device", deviceID(r))

	// The read pump only services control frames and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap := <-client.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.Debug("subscriber write failed", "client", client.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			log.Info("subscriber disconnected", "client", client.ID)
			return
		}
	}
}

func deviceID(r *http.Request) string {
	if claims := GetClaims(r.Context()); claims != nil {
		return claims.DeviceID
	}
	return ""
}
