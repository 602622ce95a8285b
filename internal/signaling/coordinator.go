package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options wires a Coordinator to its collaborators. Calls and Rooms are
// required; everything else has a no-op default.
type Options struct {
	Calls          CallService
	Rooms          RoomService
	Users          UserDirectory
	Presence       PresenceMirror
	Events         EventPublisher
	Logger         *zap.Logger
	ServiceTimeout time.Duration
	ValidateSDP    bool
}

// Coordinator owns the connection and room registries and is the only writer
// to connection sinks besides the error path of the connection pump.
type Coordinator struct {
	conns       *registry.Connections
	rooms       *registry.Rooms
	bridge      *CallBridge
	users       UserDirectory
	presence    PresenceMirror
	log         *zap.Logger
	timeout     time.Duration
	validateSDP bool
}

func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	presence := opts.Presence
	if presence == nil {
		presence = noopPresence{}
	}
	timeout := opts.ServiceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		conns:       registry.NewConnections(),
		rooms:       registry.NewRooms(),
		bridge:      NewCallBridge(opts.Calls, opts.Rooms, opts.Events, timeout, log),
		users:       opts.Users,
		presence:    presence,
		log:         log.Named("coordinator"),
		timeout:     timeout,
		validateSDP: opts.ValidateSDP,
	}
}

// AddConnection registers sink as userID's connection in roomID and persists
// the room membership. A previous connection of the same user is closed. If
// persisting fails the in-memory registration is rolled back.
func (c *Coordinator) AddConnection(ctx context.Context, userID int64, roomID string, sink *registry.Sink) (*registry.Connection, error) {
	conn, previous := c.conns.Register(userID, roomID, sink)
	if previous != nil {
		c.retire(ctx, previous, roomID)
	}

	if err := c.enterRoom(ctx, conn, roomID); err != nil {
		c.conns.UnregisterIf(conn)
		return nil, err
	}

	c.log.Info("connection added",
		zap.Int64("user_id", userID),
		zap.String("room_id", roomID),
		zap.String("conn_id", conn.ID))
	return conn, nil
}

// retire closes a connection replaced by a newer socket of the same user.
func (c *Coordinator) retire(ctx context.Context, old *registry.Connection, newRoom string) {
	old.Sink.CloseWith(registry.ClosePolicyViolation, "replaced by a newer connection")
	room := old.Room()
	if callID, ok := old.ClearCall(); ok {
		c.bridge.LeaveCall(ctx, callID, room, old.UserID)
	}
	if room != "" && room != newRoom {
		c.vacate(ctx, old, room, true)
		c.BroadcastToRoom(room, old.UserID, models.UserLeft(old.UserID, c.displayName(ctx, old.UserID)))
	}
	c.log.Info("connection replaced", zap.Int64("user_id", old.UserID), zap.String("conn_id", old.ID))
}

// enterRoom records presence of conn in roomID, then persists it.
func (c *Coordinator) enterRoom(ctx context.Context, conn *registry.Connection, roomID string) error {
	conn.SetRoom(roomID)
	if c.rooms.Join(roomID, conn.UserID) {
		c.presence.Joined(ctx, roomID, conn.UserID)
	}
	if err := c.bridge.EnterRoom(ctx, roomID, conn.UserID); err != nil {
		conn.SetRoom("")
		c.vacate(ctx, conn, roomID, false)
		return err
	}

	// A newer connection may have replaced conn while membership was being
	// persisted. Its retire step saw the previous room, not this one.
	if !c.conns.IsCurrent(conn) {
		conn.SetRoom("")
		c.vacate(ctx, conn, roomID, true)
		return errors.Wrapf(ErrUserNotConnected, "user %d", conn.UserID)
	}
	return nil
}

// vacate removes the presence of conn's user from roomID, and the persisted
// membership when persisted is set. Nothing is removed while the user's
// current connection, a newer one, lives in roomID.
func (c *Coordinator) vacate(ctx context.Context, conn *registry.Connection, roomID string, persisted bool) {
	if c.heldByNewer(conn, roomID) {
		return
	}
	c.leaveRoomPresence(ctx, roomID, conn.UserID)
	if persisted {
		c.bridge.ExitRoom(ctx, roomID, conn.UserID)
	}

	// The newer connection may have entered roomID while this one was leaving.
	if c.heldByNewer(conn, roomID) {
		c.restore(ctx, conn.UserID, roomID)
	}
}

func (c *Coordinator) heldByNewer(conn *registry.Connection, roomID string) bool {
	current, ok := c.conns.Get(conn.UserID)
	return ok && current != conn && current.Room() == roomID
}

func (c *Coordinator) restore(ctx context.Context, userID int64, roomID string) {
	ctx = context.WithoutCancel(ctx)
	if c.rooms.Join(roomID, userID) {
		c.presence.Joined(ctx, roomID, userID)
	}
	if err := c.bridge.EnterRoom(ctx, roomID, userID); err != nil {
		c.log.Warn("failed to restore room membership", zap.String("room_id", roomID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (c *Coordinator) leaveRoomPresence(ctx context.Context, roomID string, userID int64) {
	if c.rooms.Leave(roomID, userID) {
		c.presence.Left(context.WithoutCancel(ctx), roomID, userID)
	}
}

// JoinCall puts userID into the active call of roomID, creating one if the
// room has none, and stamps the call on the user's connection.
func (c *Coordinator) JoinCall(ctx context.Context, userID int64, roomID string) (int64, error) {
	callID, err := c.bridge.JoinCall(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}

	conn, ok := c.conns.Get(userID)
	if !ok {
		return callID, nil
	}
	conn.SetCall(callID)

	// The connection may have been torn down while the call was resolved; its
	// cleanup then ran without this call id.
	if !c.conns.IsCurrent(conn) {
		if id, had := conn.ClearCall(); had {
			c.bridge.LeaveCall(ctx, id, roomID, userID)
		}
	}
	return callID, nil
}

// RemoveConnection removes whatever connection userID has. Safe to call for
// unknown users.
func (c *Coordinator) RemoveConnection(ctx context.Context, userID int64) {
	conn, ok := c.conns.Unregister(userID)
	if !ok {
		return
	}
	c.cleanup(ctx, conn)
}

// Disconnect removes conn if it is still the user's registered connection and
// reports whether it did.
func (c *Coordinator) Disconnect(ctx context.Context, conn *registry.Connection) bool {
	if !c.conns.UnregisterIf(conn) {
		return false
	}
	c.cleanup(ctx, conn)
	return true
}

func (c *Coordinator) cleanup(ctx context.Context, conn *registry.Connection) {
	room := conn.Room()
	if callID, ok := conn.ClearCall(); ok {
		c.bridge.LeaveCall(ctx, callID, room, conn.UserID)
	}
	if room != "" {
		c.vacate(ctx, conn, room, true)
	}
	conn.Sink.Close()

	c.log.Info("connection removed",
		zap.Int64("user_id", conn.UserID),
		zap.String("room_id", room),
		zap.String("conn_id", conn.ID))
}

// SendToUser enqueues msg on userID's connection. Success means the frame is
// queued, not delivered.
func (c *Coordinator) SendToUser(userID int64, msg models.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	return c.sendRaw(userID, data)
}

func (c *Coordinator) sendRaw(userID int64, data []byte) error {
	conn, ok := c.conns.Get(userID)
	if !ok {
		return errors.Wrapf(ErrUserNotConnected, "user %d", userID)
	}
	return sendTo(conn, data)
}

func sendTo(conn *registry.Connection, data []byte) error {
	err := conn.Sink.Send(registry.TextFrame(data))
	if errors.Is(err, registry.ErrSinkClosed) {
		return errors.Wrapf(ErrUserNotConnected, "user %d", conn.UserID)
	}
	return errors.Wrapf(err, "user %d", conn.UserID)
}

// BroadcastToRoom enqueues msg for every member of roomID except
// excludeUserID. Per-recipient failures are logged and skipped.
func (c *Coordinator) BroadcastToRoom(roomID string, excludeUserID int64, msg models.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to encode broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	for _, userID := range c.rooms.Members(roomID) {
		if userID == excludeUserID {
			continue
		}
		conn, ok := c.conns.Get(userID)
		if !ok || conn.Room() != roomID {
			continue
		}
		if err := sendTo(conn, data); err != nil {
			c.log.Debug("broadcast skipped recipient",
				zap.String("room_id", roomID),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}
}

// RoomMembers returns a snapshot of the users connected to roomID.
func (c *Coordinator) RoomMembers(roomID string) []int64 {
	return c.rooms.Members(roomID)
}

// Connection returns userID's live connection.
func (c *Coordinator) Connection(userID int64) (*registry.Connection, bool) {
	return c.conns.Get(userID)
}

// ConnectionCount is the number of live connections.
func (c *Coordinator) ConnectionCount() int {
	return c.conns.Count()
}

// Shutdown asks every connection to close. The pumps run the usual cleanup.
func (c *Coordinator) Shutdown() {
	for _, conn := range c.conns.Snapshot() {
		conn.Sink.CloseWith(registry.CloseGoingAway, "server shutting down")
	}
}
