package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/ws"
)

// WSHandler upgrades authenticated requests into hub clients.
type WSHandler struct {
	hub        *ws.Hub
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewWSHandler(hub *ws.Hub, sendBuffer int) *WSHandler {
	return &WSHandler{
		hub:        hub,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer on the login flow;
			// the session token is the credential here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}
	client := ws.NewClient(h.hub, conn, id.UserID, h.sendBuffer)
	if err := h.hub.Register(client); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	client.Run(r.Context())
}
