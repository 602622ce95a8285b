package signaling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func frame(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func joinFrame(t *testing.T, userID int64, roomID string) []byte {
	return frame(t, map[string]any{"type": "join", "user_id": userID, "room_id": roomID})
}

func TestHandleMessage_TwoUsersJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")

	require.NoError(t, f.coord.HandleMessage(ctx, a, joinFrame(t, 1, "r1")))
	got := drain(t, a.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeUserJoined, got[0].Type)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.ElementsMatch(t, []int64{1, 2}, got[0].Users)
	drain(t, b.Sink)

	require.NoError(t, f.coord.HandleMessage(ctx, b, joinFrame(t, 2, "r1")))

	toB := drain(t, b.Sink)
	require.Len(t, toB, 1)
	assert.Equal(t, int64(2), toB[0].UserID)
	assert.ElementsMatch(t, []int64{1, 2}, toB[0].Users)

	toA := drain(t, a.Sink)
	require.Len(t, toA, 1)
	assert.Equal(t, models.ServerTypeUserJoined, toA[0].Type)
	assert.Equal(t, int64(2), toA[0].UserID)

	callA, _ := a.CallID()
	callB, _ := b.CallID()
	assert.Equal(t, callA, callB)
	assert.ElementsMatch(t, []int64{1, 2}, f.mem.ActiveParticipants(callA))
}

func TestHandleMessage_JoinIdentityMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")

	err := f.coord.HandleMessage(context.Background(), a, joinFrame(t, 7, "r1"))
	assert.True(t, errors.Is(err, ErrIdentityMismatch))
	_, ok := a.CallID()
	assert.False(t, ok)
}

func TestHandleMessage_JoinMovesRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.AddUser(1, "Ada")
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")
	require.NoError(t, f.coord.HandleMessage(ctx, a, joinFrame(t, 1, "r1")))
	oldCall, _ := a.CallID()
	drain(t, b.Sink)

	require.NoError(t, f.coord.HandleMessage(ctx, a, joinFrame(t, 1, "r2")))

	assert.Equal(t, "r2", a.Room())
	assert.Equal(t, []int64{2}, f.coord.RoomMembers("r1"))
	assert.Equal(t, []int64{1}, f.coord.RoomMembers("r2"))
	assert.False(t, f.mem.IsMember("r1", 1))
	assert.True(t, f.mem.IsMember("r2", 1))
	assert.Empty(t, f.mem.ActiveParticipants(oldCall))

	newCall, ok := a.CallID()
	require.True(t, ok)
	assert.NotEqual(t, oldCall, newCall)

	toB := drain(t, b.Sink)
	require.Len(t, toB, 1)
	assert.Equal(t, models.ServerTypeUserLeft, toB[0].Type)
	assert.Equal(t, "Ada", toB[0].UserName)
}

func TestHandleMessage_RelayOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")

	offer := frame(t, map[string]any{"type": "offer", "target_user_id": 2, "sdp": testSDP})
	require.NoError(t, f.coord.HandleMessage(ctx, a, offer))

	got := drain(t, b.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeOffer, got[0].Type)
	assert.Equal(t, int64(1), got[0].From)
	assert.Equal(t, testSDP, got[0].SDP)
	assert.Empty(t, drain(t, a.Sink))

	answer := frame(t, map[string]any{"type": "answer", "target_user_id": 1, "sdp": testSDP})
	require.NoError(t, f.coord.HandleMessage(ctx, b, answer))
	got = drain(t, a.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeAnswer, got[0].Type)
	assert.Equal(t, int64(2), got[0].From)
}

func TestHandleMessage_RelayIceCandidate(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")

	for _, typ := range []string{"ice_candidate", "ice-candidate"} {
		msg := frame(t, map[string]any{
			"type":             typ,
			"target_user_id":   2,
			"candidate":        "candidate:1 1 UDP 2122252543 192.0.2.1 54400 typ host",
			"sdp_mid":          "0",
			"sdp_m_line_index": 0,
		})
		require.NoError(t, f.coord.HandleMessage(context.Background(), a, msg))

		got := drain(t, b.Sink)
		require.Len(t, got, 1)
		assert.Equal(t, models.ServerTypeIceCandidate, got[0].Type)
		require.NotNil(t, got[0].SDPMid)
		assert.Equal(t, "0", *got[0].SDPMid)
		require.NotNil(t, got[0].SDPMLineIndex)
		assert.Equal(t, uint16(0), *got[0].SDPMLineIndex)
	}
}

func TestHandleMessage_RelayToAbsentUser(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")
	other := f.connect(t, 3, "r2")

	for _, target := range []int64{99, 3} {
		msg := frame(t, map[string]any{"type": "offer", "target_user_id": target, "sdp": testSDP})
		err := f.coord.HandleMessage(context.Background(), a, msg)
		assert.True(t, errors.Is(err, ErrUserNotConnected), "target %d", target)
	}
	assert.Empty(t, drain(t, a.Sink))
	assert.Empty(t, drain(t, other.Sink))
}

func TestHandleMessage_InvalidFrames(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")
	f.connect(t, 2, "r1")

	for name, data := range map[string][]byte{
		"not json":     []byte("{"),
		"unknown type": []byte(`{"type":"dance"}`),
		"missing sdp":  []byte(`{"type":"offer","target_user_id":2}`),
		"bad sdp":      []byte(`{"type":"offer","target_user_id":2,"sdp":"hello"}`),
	} {
		t.Run(name, func(t *testing.T) {
			err := f.coord.HandleMessage(context.Background(), a, data)
			assert.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
		})
	}
}

func TestHandleMessage_SDPValidationDisabled(t *testing.T) {
	f := newFixture(t)
	f.coord.validateSDP = false
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")

	msg := []byte(`{"type":"offer","target_user_id":2,"sdp":"opaque"}`)
	require.NoError(t, f.coord.HandleMessage(context.Background(), a, msg))
	assert.Len(t, drain(t, b.Sink), 1)
}

func TestHandleMessage_Leave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.AddUser(1, "Ada")
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")
	require.NoError(t, f.coord.HandleMessage(ctx, a, joinFrame(t, 1, "r1")))
	callID, _ := a.CallID()
	drain(t, b.Sink)

	require.NoError(t, f.coord.HandleMessage(ctx, a, []byte(`{"type":"leave","room_id":"r1"}`)))

	assert.True(t, a.Sink.Closed())
	assert.Equal(t, []int64{2}, f.coord.RoomMembers("r1"))
	assert.Empty(t, f.mem.ActiveParticipants(callID))

	got := drain(t, b.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeUserLeft, got[0].Type)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, "Ada", got[0].UserName)

	// The pump's own teardown follows and must not announce the user twice.
	f.coord.HandleDisconnect(ctx, a)
	assert.Empty(t, drain(t, b.Sink))

	err := f.coord.HandleMessage(ctx, a, joinFrame(t, 1, "r1"))
	assert.True(t, errors.Is(err, ErrUserNotConnected))
}

func TestHandleDisconnect_UnknownNameStillAnnounced(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")
	b := f.connect(t, 2, "r1")

	f.coord.HandleDisconnect(context.Background(), a)

	got := drain(t, b.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeUserLeft, got[0].Type)
	assert.Empty(t, got[0].UserName)
}

func TestSendError(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")

	f.coord.SendError(a, ErrNotInRoom)
	got := drain(t, a.Sink)
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerTypeError, got[0].Type)
	assert.Equal(t, ErrNotInRoom.Error(), got[0].Message)

	a.Sink.Close()
	f.coord.SendError(a, ErrNotInRoom)
}

func TestRelayRequiresRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1, "r1")
	f.connect(t, 2, "r1")
	a.SetRoom("")

	err := f.coord.relay(a, 2, models.Offer(1, testSDP))
	assert.True(t, errors.Is(err, ErrNotInRoom))
}
