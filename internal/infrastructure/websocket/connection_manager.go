package websocket

import (
	"sync"

	"bidding-engine/pkg/logger"

	"github.com/gorilla/websocket"
)

// Connection is one live watcher socket bound to a user and a listing.
type Connection struct {
	conn      *websocket.Conn
	userID    string
	listingID string
	writeMu   sync.Mutex
}

func NewConnection(conn *websocket.Conn, userID, listingID string) *Connection {
	return &Connection{
		conn:      conn,
		userID:    userID,
		listingID: listingID,
	}
}

func (c *Connection) Send(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(message)
}

// ReadJSON blocks on the next inbound frame. Reads are single-goroutine by
// construction, so no read-side lock.
func (c *Connection) ReadJSON(v interface{}) error {
	return c.conn.ReadJSON(v)
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) UserID() string    { return c.userID }
func (c *Connection) ListingID() string { return c.listingID }

// ConnectionManager tracks sockets by listing and by user.
type ConnectionManager struct {
	connections map[string]map[string]*Connection // listingID -> userID -> connection
	userConns   map[string][]*Connection          // userID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID, listingID string, conn *Connection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[listingID] == nil {
		cm.connections[listingID] = make(map[string]*Connection)
	}
	cm.connections[listingID][userID] = conn
	cm.userConns[userID] = append(cm.userConns[userID], conn)

	cm.log.Info("Connection registered", "user_id", userID, "listing_id", listingID)
}

func (cm *ConnectionManager) UnregisterConnection(userID, listingID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if listingConns, exists := cm.connections[listingID]; exists {
		delete(listingConns, userID)
		if len(listingConns) == 0 {
			delete(cm.connections, listingID)
		}
	}

	if userConnections, exists := cm.userConns[userID]; exists {
		var remaining []*Connection
		for _, c := range userConnections {
			if c.ListingID() != listingID {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			delete(cm.userConns, userID)
		} else {
			cm.userConns[userID] = remaining
		}
	}

	cm.log.Info("Connection unregistered", "user_id", userID, "listing_id", listingID)
}

func (cm *ConnectionManager) connectionsForListing(listingID string) []*Connection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var out []*Connection
	for _, conn := range cm.connections[listingID] {
		out = append(out, conn)
	}
	return out
}

func (cm *ConnectionManager) connectionsForUser(userID string) []*Connection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.userConns[userID]
}

// BroadcastToListing sends a message to every watcher of a listing. Slow or
// broken sockets are skipped, not retried.
func (cm *ConnectionManager) BroadcastToListing(listingID string, message interface{}) error {
	for _, conn := range cm.connectionsForListing(listingID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(),
				"listing_id", listingID, "error", err)
		}
	}
	return nil
}

// NotifyUser sends a message to every socket a user holds. A user with no
// open socket is not an error; another channel picks those up.
func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	var lastErr error
	for _, conn := range cm.connectionsForUser(userID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
