package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Connection is the live state of one signaling socket
type Connection struct {
	ID          string
	UserID      int64
	Sink        *Sink
	ConnectedAt time.Time

	mu      sync.RWMutex
	roomID  string
	callID  int64
	hasCall bool
}

func newConnection(userID int64, roomID string, sink *Sink) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Sink:        sink,
		ConnectedAt: time.Now(),
		roomID:      roomID,
	}
}

// Room returns the room the connection is present in, or "" when it has none.
func (c *Connection) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) SetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// CallID returns the active call the connection participates in.
func (c *Connection) CallID() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callID, c.hasCall
}

func (c *Connection) SetCall(callID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callID = callID
	c.hasCall = true
}

// ClearCall forgets the call and returns the id it held.
func (c *Connection) ClearCall() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, had := c.callID, c.hasCall
	c.callID, c.hasCall = 0, false
	return id, had
}

// Connections maps user identities to their live connection. Keys are spread
// over independently locked shards so unrelated users never contend.
type Connections struct {
	m cmap.ConcurrentMap[int64, *Connection]
}

func NewConnections() *Connections {
	return &Connections{
		m: cmap.NewWithCustomShardingFunction[int64, *Connection](shardUserID),
	}
}

func shardUserID(userID int64) uint32 {
	return uint32(userID) ^ uint32(userID>>32)
}

// Register inserts a connection for userID, replacing any previous one. The
// replaced connection is returned so the caller can close its sink.
func (r *Connections) Register(userID int64, roomID string, sink *Sink) (conn, previous *Connection) {
	conn = newConnection(userID, roomID, sink)
	r.m.Upsert(userID, conn, func(exist bool, inMap, fresh *Connection) *Connection {
		if exist {
			previous = inMap
		}
		return fresh
	})
	return conn, previous
}

// Unregister removes and returns whatever connection userID holds.
func (r *Connections) Unregister(userID int64) (*Connection, bool) {
	return r.m.Pop(userID)
}

// UnregisterIf removes conn only if it is still the registered connection for
// its user, so a late teardown never evicts a newer socket.
func (r *Connections) UnregisterIf(conn *Connection) bool {
	return r.m.RemoveCb(conn.UserID, func(_ int64, current *Connection, exists bool) bool {
		return exists && current.ID == conn.ID
	})
}

func (r *Connections) Get(userID int64) (*Connection, bool) {
	return r.m.Get(userID)
}

// IsCurrent reports whether conn is the registered connection for its user.
func (r *Connections) IsCurrent(conn *Connection) bool {
	current, ok := r.m.Get(conn.UserID)
	return ok && current.ID == conn.ID
}

// SetCall stamps the call id on userID's connection. It is a no-op for unknown users.
func (r *Connections) SetCall(userID, callID int64) bool {
	conn, ok := r.m.Get(userID)
	if !ok {
		return false
	}
	conn.SetCall(callID)
	return true
}

func (r *Connections) Count() int {
	return r.m.Count()
}

// Snapshot returns every registered connection.
func (r *Connections) Snapshot() []*Connection {
	items := r.m.Items()
	out := make([]*Connection, 0, len(items))
	for _, conn := range items {
		out = append(out, conn)
	}
	return out
}
