package signaling

import (
	"context"
	"encoding/json"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HandleMessage decodes one inbound frame from conn and applies it. A returned
// error is meant for the sender and does not end the connection.
func (c *Coordinator) HandleMessage(ctx context.Context, conn *registry.Connection, data []byte) error {
	msg, err := models.ParseSignalingMessage(data)
	if err != nil {
		return errors.Wrap(ErrInvalidMessage, err.Error())
	}
	if !c.conns.IsCurrent(conn) {
		return errors.Wrapf(ErrUserNotConnected, "user %d", conn.UserID)
	}

	switch msg.Type {
	case models.SignalTypeJoin:
		return c.handleJoin(ctx, conn, msg)
	case models.SignalTypeLeave:
		c.handleLeave(ctx, conn)
		return nil
	case models.SignalTypeOffer:
		if err := c.checkSDP(msg.SDP); err != nil {
			return err
		}
		return c.relay(conn, msg.TargetUserID, models.Offer(conn.UserID, msg.SDP))
	case models.SignalTypeAnswer:
		if err := c.checkSDP(msg.SDP); err != nil {
			return err
		}
		return c.relay(conn, msg.TargetUserID, models.Answer(conn.UserID, msg.SDP))
	case models.SignalTypeIceCandidate:
		return c.relay(conn, msg.TargetUserID,
			models.IceCandidate(conn.UserID, msg.Candidate, msg.SDPMid, msg.SDPMLineIndex))
	}
	return errors.Wrapf(ErrInvalidMessage, "unhandled message type %q", msg.Type)
}

func (c *Coordinator) handleJoin(ctx context.Context, conn *registry.Connection, msg models.SignalingMessage) error {
	if msg.UserID != conn.UserID {
		return errors.Wrapf(ErrIdentityMismatch, "got %d", msg.UserID)
	}

	if current := conn.Room(); current != msg.RoomID {
		if current != "" {
			c.leaveRoom(ctx, conn, current)
		}
		if err := c.enterRoom(ctx, conn, msg.RoomID); err != nil {
			return err
		}
	}

	callID, err := c.JoinCall(ctx, conn.UserID, msg.RoomID)
	if err != nil {
		return err
	}

	users := c.RoomMembers(msg.RoomID)
	joined := models.UserJoined(conn.UserID, users)
	data, err := json.Marshal(joined)
	if err != nil {
		return errors.Wrap(err, "encode user-joined")
	}
	if err := sendTo(conn, data); err != nil {
		return err
	}
	c.BroadcastToRoom(msg.RoomID, conn.UserID, joined)

	c.log.Info("joined call",
		zap.Int64("user_id", conn.UserID),
		zap.Int64("call_id", callID),
		zap.String("room_id", msg.RoomID),
		zap.Int("present", len(users)))
	return nil
}

// leaveRoom moves conn out of roomID while keeping the socket open.
func (c *Coordinator) leaveRoom(ctx context.Context, conn *registry.Connection, roomID string) {
	if callID, ok := conn.ClearCall(); ok {
		c.bridge.LeaveCall(ctx, callID, roomID, conn.UserID)
	}
	c.vacate(ctx, conn, roomID, true)
	conn.SetRoom("")
	if c.conns.IsCurrent(conn) {
		c.BroadcastToRoom(roomID, conn.UserID, models.UserLeft(conn.UserID, c.displayName(ctx, conn.UserID)))
	}
}

func (c *Coordinator) handleLeave(ctx context.Context, conn *registry.Connection) {
	c.HandleDisconnect(ctx, conn)
}

// HandleDisconnect tears conn down and tells the rest of its room. Calling it
// again, or for a connection that was already replaced, does nothing.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn *registry.Connection) {
	room := conn.Room()
	if !c.Disconnect(ctx, conn) {
		return
	}
	if room != "" {
		c.BroadcastToRoom(room, conn.UserID, models.UserLeft(conn.UserID, c.displayName(ctx, conn.UserID)))
	}
}

func (c *Coordinator) relay(from *registry.Connection, targetUserID int64, msg models.ServerMessage) error {
	room := from.Room()
	if room == "" {
		return ErrNotInRoom
	}
	target, ok := c.conns.Get(targetUserID)
	if !ok || target.Room() != room {
		return errors.Wrapf(ErrUserNotConnected, "user %d", targetUserID)
	}
	if err := c.sendMessage(target, msg); err != nil {
		return err
	}
	c.log.Debug("relayed",
		zap.String("type", string(msg.Type)),
		zap.Int64("from", from.UserID),
		zap.Int64("to", targetUserID))
	return nil
}

func (c *Coordinator) sendMessage(conn *registry.Connection, msg models.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	return sendTo(conn, data)
}

// SendError reports err to conn as an error frame. The frame is dropped if the
// connection is already closing.
func (c *Coordinator) SendError(conn *registry.Connection, err error) {
	if sendErr := c.sendMessage(conn, models.ErrorMessage(err.Error())); sendErr != nil {
		c.log.Debug("error frame dropped", zap.Int64("user_id", conn.UserID), zap.Error(sendErr))
	}
}

func (c *Coordinator) checkSDP(raw string) error {
	if !c.validateSDP {
		return nil
	}
	if err := models.ValidateSDP(raw); err != nil {
		return errors.Wrap(ErrInvalidMessage, err.Error())
	}
	return nil
}

func (c *Coordinator) displayName(ctx context.Context, userID int64) string {
	if c.users == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	name, err := c.users.DisplayName(ctx, userID)
	if err != nil {
		c.log.Debug("display name unavailable", zap.Int64("user_id", userID), zap.Error(err))
		return ""
	}
	return name
}
