package models

import (
	"time"

	"github.com/pkg/errors"
)

// CallStatus is the persisted lifecycle state of a call
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusFailed    CallStatus = "failed"
)

// ErrInvalidCallStatus is returned by ParseCallStatus for unknown values.
var ErrInvalidCallStatus = errors.New("invalid call status; valid values are initiated, ringing, active, ended, missed, rejected, failed")

func ParseCallStatus(s string) (CallStatus, error) {
	switch status := CallStatus(s); status {
	case CallStatusInitiated, CallStatusRinging, CallStatusActive, CallStatusEnded,
		CallStatusMissed, CallStatusRejected, CallStatusFailed:
		return status, nil
	}
	return "", errors.Wrapf(ErrInvalidCallStatus, "got %q", s)
}

// Room is the persisted room record behind a room identifier
type Room struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	IsActive        bool      `json:"isActive" db:"is_active"`
	MaxParticipants int       `json:"maxParticipants" db:"max_participants"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Call is the persisted call record. The coordinator only uses ID and Status.
type Call struct {
	ID        int64      `json:"id" db:"id"`
	RoomID    string     `json:"roomId" db:"room_id"`
	CallerID  int64      `json:"callerId" db:"caller_id"`
	Status    CallStatus `json:"status" db:"status"`
	StartedAt time.Time  `json:"startedAt" db:"started_at"`
	EndedAt   *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Duration  *int32     `json:"duration,omitempty" db:"duration"`
}

// CallParticipant records one user's stay in a call
type CallParticipant struct {
	CallID   int64      `json:"callId" db:"call_id"`
	UserID   int64      `json:"userId" db:"user_id"`
	JoinedAt time.Time  `json:"joinedAt" db:"joined_at"`
	LeftAt   *time.Time `json:"leftAt,omitempty" db:"left_at"`
	Duration *int32     `json:"duration,omitempty" db:"duration"`
}

// CallEvent is published when a participant enters or leaves a call
type CallEvent struct {
	CallID int64     `json:"call_id"`
	RoomID string    `json:"room_id"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

// PresenceResponse is the body of the room presence endpoint
type PresenceResponse struct {
	RoomID string  `json:"room_id"`
	Users  []int64 `json:"users"`
	Count  int     `json:"count"`
}

// TokenRequest asks the development token endpoint for a signed identity token
type TokenRequest struct {
	UserID int64 `json:"user_id" binding:"required,min=1"`
}

// TokenResponse carries a signed identity token
type TokenResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}
