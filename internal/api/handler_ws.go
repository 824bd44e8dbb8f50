package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"carguard-backend/internal/mw"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from their own origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and joins the caller to their dashboard
// owner's fan-out room. Blocks until the client disconnects.
func (h *Handler) ServeWS(c *gin.Context) {
	ownerID := mw.DashboardOwnerID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	h.hub.Join(ownerID, conn)
}
