package store

import (
	"context"
	"testing"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CallLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.JoinRoom(ctx, "r1", 1))
	require.NoError(t, m.JoinRoom(ctx, "r1", 2))
	assert.True(t, m.IsMember("r1", 1))

	calls, err := m.ActiveCallsByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, calls)

	call, err := m.CreateCall(ctx, "r1", 1, models.CallStatusActive)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, m.ActiveParticipants(call.ID), "caller joins on create")

	require.NoError(t, m.AddParticipant(ctx, call.ID, 2))
	require.NoError(t, m.AddParticipant(ctx, call.ID, 2), "adding twice is a no-op")
	assert.Equal(t, []int64{1, 2}, m.ActiveParticipants(call.ID))

	calls, err = m.ActiveCallsByRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, call.ID, calls[0].ID)

	require.NoError(t, m.RemoveParticipant(ctx, call.ID, 1))
	err = m.RemoveParticipant(ctx, call.ID, 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.RemoveParticipant(ctx, call.ID, 2))
	ended, ok := m.Call(call.ID)
	require.True(t, ok)
	assert.Equal(t, models.CallStatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)

	err = m.AddParticipant(ctx, call.ID, 2)
	assert.True(t, errors.Is(err, ErrValidation), "ended calls reject participants")
}

func TestMemory_Validation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.True(t, errors.Is(m.JoinRoom(ctx, "", 1), ErrValidation))

	_, err := m.CreateCall(ctx, "nowhere", 1, models.CallStatusActive)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.JoinRoom(ctx, "r1", 1))
	_, err = m.CreateCall(ctx, "r1", 1, models.CallStatusEnded)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = m.CreateCall(ctx, "r1", 5, models.CallStatusActive)
	assert.True(t, errors.Is(err, ErrForbidden))

	call, err := m.CreateCall(ctx, "r1", 1, models.CallStatusActive)
	require.NoError(t, err)
	assert.True(t, errors.Is(m.AddParticipant(ctx, call.ID, 5), ErrForbidden))
	assert.True(t, errors.Is(m.AddParticipant(ctx, 999, 1), ErrNotFound))

	_, err = m.ActiveCallsByRoom(ctx, "nowhere")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_ParticipantLimitAndRejoin(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddRoom(models.Room{ID: "small", IsActive: true, MaxParticipants: 2})
	for u := int64(1); u <= 3; u++ {
		require.NoError(t, m.JoinRoom(ctx, "small", u))
	}

	call, err := m.CreateCall(ctx, "small", 1, models.CallStatusActive)
	require.NoError(t, err)
	require.NoError(t, m.AddParticipant(ctx, call.ID, 2))
	assert.True(t, errors.Is(m.AddParticipant(ctx, call.ID, 3), ErrValidation))

	require.NoError(t, m.RemoveParticipant(ctx, call.ID, 2))
	require.NoError(t, m.AddParticipant(ctx, call.ID, 3))
	require.NoError(t, m.RemoveParticipant(ctx, call.ID, 3))
	require.NoError(t, m.AddParticipant(ctx, call.ID, 3), "a user who left can rejoin")
	assert.Equal(t, []int64{1, 3}, m.ActiveParticipants(call.ID))
}

func TestMemory_InactiveRoomAndUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddRoom(models.Room{ID: "closed", IsActive: false, MaxParticipants: 2})
	assert.True(t, errors.Is(m.JoinRoom(ctx, "closed", 1), ErrValidation))

	_, err := m.DisplayName(ctx, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	m.AddUser(1, "Ann")
	name, err := m.DisplayName(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", name)

	assert.True(t, errors.Is(m.LeaveRoom(ctx, "missing", 1), ErrNotFound))
}
