// Package signaling coordinates live signaling connections, in-memory room
// presence and call membership persisted by external services.
package signaling

import (
	"context"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrUserNotConnected = errors.New("user not connected")
	ErrNotInRoom        = errors.New("not in a room")
	ErrIdentityMismatch = errors.New("user_id does not match the authenticated user")
	ErrInvalidMessage   = errors.New("invalid message")
)

// RoomService persists room membership
type RoomService interface {
	JoinRoom(ctx context.Context, roomID string, userID int64) error
	LeaveRoom(ctx context.Context, roomID string, userID int64) error
}

// CallService persists calls and their participants
type CallService interface {
	ActiveCallsByRoom(ctx context.Context, roomID string) ([]models.Call, error)
	CreateCall(ctx context.Context, roomID string, callerID int64, status models.CallStatus) (models.Call, error)
	AddParticipant(ctx context.Context, callID, userID int64) error
	RemoveParticipant(ctx context.Context, callID, userID int64) error
}

// UserDirectory resolves display names for user-left notifications
type UserDirectory interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// PresenceMirror receives every in-memory presence change
type PresenceMirror interface {
	Joined(ctx context.Context, roomID string, userID int64)
	Left(ctx context.Context, roomID string, userID int64)
}

// EventPublisher announces call participation changes
type EventPublisher interface {
	Publish(ctx context.Context, subject string, ev models.CallEvent) error
}

type noopPresence struct{}

func (noopPresence) Joined(context.Context, string, int64) {}
func (noopPresence) Left(context.Context, string, int64)   {}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, string, models.CallEvent) error { return nil }
