package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/pkg/errors"
)

type memoryRoom struct {
	room    models.Room
	members map[int64]struct{}
}

// Memory keeps rooms, calls and users in process memory. Rooms are created on
// first join. Used in development and tests.
type Memory struct {
	mu           sync.Mutex
	nextCallID   int64
	users        map[int64]string
	rooms        map[string]*memoryRoom
	calls        map[int64]*models.Call
	participants map[int64]map[int64]*models.CallParticipant
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[int64]string),
		rooms:        make(map[string]*memoryRoom),
		calls:        make(map[int64]*models.Call),
		participants: make(map[int64]map[int64]*models.CallParticipant),
		now:          time.Now,
	}
}

// AddUser registers a display name for userID.
func (m *Memory) AddUser(userID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = name
}

// AddRoom creates or replaces a room record.
func (m *Memory) AddRoom(room models.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rooms[room.ID]
	if ok {
		existing.room = room
		return
	}
	m.rooms[room.ID] = &memoryRoom{room: room, members: make(map[int64]struct{})}
}

func (m *Memory) DisplayName(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.users[userID]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "user %d", userID)
	}
	return name, nil
}

func (m *Memory) JoinRoom(_ context.Context, roomID string, userID int64) error {
	if roomID == "" {
		return errors.Wrap(ErrValidation, "room id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memoryRoom{
			room: models.Room{
				ID:              roomID,
				Name:            roomID,
				IsActive:        true,
				MaxParticipants: DefaultMaxParticipants,
				CreatedAt:       m.now(),
			},
			members: make(map[int64]struct{}),
		}
		m.rooms[roomID] = r
	}
	if !r.room.IsActive {
		return errors.Wrapf(ErrValidation, "room %s is not active", roomID)
	}
	r.members[userID] = struct{}{}
	return nil
}

func (m *Memory) LeaveRoom(_ context.Context, roomID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "room %s", roomID)
	}
	delete(r.members, userID)
	return nil
}

// IsMember reports persisted room membership.
func (m *Memory) IsMember(roomID string, userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	_, member := r.members[userID]
	return member
}

func (m *Memory) ActiveCallsByRoom(_ context.Context, roomID string) ([]models.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "room %s", roomID)
	}
	var calls []models.Call
	for _, c := range m.calls {
		if c.RoomID == roomID && c.Status == models.CallStatusActive {
			calls = append(calls, *c)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].ID > calls[j].ID })
	return calls, nil
}

func (m *Memory) CreateCall(_ context.Context, roomID string, callerID int64, status models.CallStatus) (models.Call, error) {
	if roomID == "" {
		return models.Call{}, errors.Wrap(ErrValidation, "room id cannot be empty")
	}
	if status != models.CallStatusActive && status != models.CallStatusInitiated {
		return models.Call{}, errors.Wrap(ErrValidation, "call status must be either 'active' or 'initiated'")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return models.Call{}, errors.Wrapf(ErrNotFound, "room %s", roomID)
	}
	if !r.room.IsActive {
		return models.Call{}, errors.Wrapf(ErrValidation, "room %s is not active", roomID)
	}
	if _, member := r.members[callerID]; !member {
		return models.Call{}, errors.Wrapf(ErrForbidden, "user %d is not a member of room %s", callerID, roomID)
	}

	m.nextCallID++
	call := &models.Call{
		ID:        m.nextCallID,
		RoomID:    roomID,
		CallerID:  callerID,
		Status:    status,
		StartedAt: m.now(),
	}
	m.calls[call.ID] = call
	m.participants[call.ID] = map[int64]*models.CallParticipant{
		callerID: {CallID: call.ID, UserID: callerID, JoinedAt: call.StartedAt},
	}
	return *call, nil
}

func (m *Memory) AddParticipant(_ context.Context, callID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "call %d", callID)
	}
	if call.Status != models.CallStatusActive {
		return errors.Wrapf(ErrValidation, "cannot add participant to non-active call %d", callID)
	}
	r := m.rooms[call.RoomID]
	if _, member := r.members[userID]; !member {
		return errors.Wrapf(ErrForbidden, "user %d is not a member of room %s", userID, call.RoomID)
	}

	parts := m.participants[callID]
	if p, ok := parts[userID]; ok && p.LeftAt == nil {
		return nil
	}
	if m.activeLocked(callID) >= r.room.MaxParticipants {
		return errors.Wrapf(ErrValidation, "call %d has reached the room's participant limit (%d)", callID, r.room.MaxParticipants)
	}
	parts[userID] = &models.CallParticipant{CallID: callID, UserID: userID, JoinedAt: m.now()}
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, callID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "call %d", callID)
	}
	p, ok := m.participants[callID][userID]
	if !ok || p.LeftAt != nil {
		return errors.Wrapf(ErrNotFound, "user %d is not a participant in call %d", userID, callID)
	}

	now := m.now()
	p.LeftAt = &now
	p.Duration = seconds(now.Sub(p.JoinedAt))

	if m.activeLocked(callID) == 0 {
		call.Status = models.CallStatusEnded
		call.EndedAt = &now
		call.Duration = seconds(now.Sub(call.StartedAt))
	}
	return nil
}

// ActiveParticipants lists users currently in callID, ordered by id.
func (m *Memory) ActiveParticipants(callID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, p := range m.participants[callID] {
		if p.LeftAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Call returns a copy of the call record.
func (m *Memory) Call(callID int64) (models.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return models.Call{}, false
	}
	return *c, true
}

func (m *Memory) activeLocked(callID int64) int {
	n := 0
	for _, p := range m.participants[callID] {
		if p.LeftAt == nil {
			n++
		}
	}
	return n
}

func seconds(d time.Duration) *int32 {
	s := int32(d / time.Second)
	return &s
}
