package events

import (
	"context"
	"testing"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Encode(models.CallEvent{CallID: 7, RoomID: "r1", UserID: 3, At: at})
	require.NoError(t, err)
	assert.JSONEq(t, `{"call_id":7,"room_id":"r1","user_id":3,"at":"2026-01-02T03:04:05Z"}`, string(data))
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Publish(context.Background(), SubjectParticipantJoined, models.CallEvent{}))
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "test")
	assert.Error(t, err)
}
