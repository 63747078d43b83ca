package handlers

import (
	"net/http"

	"bidding-engine/internal/domain"
	ws "bidding-engine/internal/infrastructure/websocket"
	"bidding-engine/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy belongs to the gateway in front
	},
}

// WebSocketHandler attaches watchers to a listing so they receive live
// price updates and their own outbid / won notifications.
type WebSocketHandler struct {
	store       domain.ListingStore
	connManager *ws.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(store domain.ListingStore, connManager *ws.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		store:       store,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(c echo.Context) error {
	listingID := c.QueryParam("listing_id")
	userID := c.QueryParam("user_id")
	if listingID == "" || userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "listing_id and user_id required"})
	}

	auction, err := h.store.GetAuction(c.Request().Context(), listingID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "listing not found"})
	}
	if auction.Status.Terminal() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "auction is already settled"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	wsConn := ws.NewConnection(conn, userID, listingID)
	h.connManager.RegisterConnection(userID, listingID, wsConn)
	go h.readLoop(wsConn, userID, listingID)
	return nil
}

// readLoop drains client frames so pings work and closes are noticed. All
// bidding goes through the HTTP API; inbound frames carry no commands.
func (h *WebSocketHandler) readLoop(conn *ws.Connection, userID, listingID string) {
	defer func() {
		h.connManager.UnregisterConnection(userID, listingID)
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if t, ok := msg["type"].(string); ok && t == "ping" {
			if err := conn.Send(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}
