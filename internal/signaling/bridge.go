package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/call-signaling/internal/events"
	"github.com/mossy-p/call-signaling/internal/models"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type roomLock struct {
	mu   sync.Mutex
	refs int // guarded by the shard lock of the owning map
}

// CallBridge translates coordinator intents into room and call service calls.
// Call resolution is serialized per room so two users joining an idle room at
// once end up in the same call.
type CallBridge struct {
	calls   CallService
	rooms   RoomService
	events  EventPublisher
	timeout time.Duration
	log     *zap.Logger
	locks   cmap.ConcurrentMap[string, *roomLock]
	now     func() time.Time
}

func NewCallBridge(calls CallService, rooms RoomService, publisher EventPublisher, timeout time.Duration, log *zap.Logger) *CallBridge {
	if publisher == nil {
		publisher = noopEvents{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CallBridge{
		calls:   calls,
		rooms:   rooms,
		events:  publisher,
		timeout: timeout,
		log:     log.Named("bridge"),
		locks:   cmap.New[*roomLock](),
		now:     time.Now,
	}
}

// EnterRoom persists membership of userID in roomID.
func (b *CallBridge) EnterRoom(ctx context.Context, roomID string, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return errors.Wrapf(b.rooms.JoinRoom(ctx, roomID, userID), "join room %s", roomID)
}

// ExitRoom drops persisted membership. Best effort.
func (b *CallBridge) ExitRoom(ctx context.Context, roomID string, userID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.rooms.LeaveRoom(ctx, roomID, userID); err != nil {
		b.log.Warn("failed to leave room", zap.String("room_id", roomID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

// JoinCall adds userID to the active call in roomID, creating the call when
// there is none, and returns its id.
func (b *CallBridge) JoinCall(ctx context.Context, roomID string, userID int64) (int64, error) {
	unlock := b.lockRoom(roomID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	active, err := b.calls.ActiveCallsByRoom(ctx, roomID)
	if err != nil {
		return 0, errors.Wrapf(err, "list calls in room %s", roomID)
	}

	var callID int64
	if call, ok := firstActive(active); ok {
		callID = call.ID
	} else {
		call, err := b.calls.CreateCall(ctx, roomID, userID, models.CallStatusActive)
		if err != nil {
			return 0, errors.Wrapf(err, "create call in room %s", roomID)
		}
		callID = call.ID
		b.log.Info("call started", zap.Int64("call_id", callID), zap.String("room_id", roomID), zap.Int64("caller_id", userID))
	}

	// Adding an existing participant is a no-op in the call service.
	if err := b.calls.AddParticipant(ctx, callID, userID); err != nil {
		return 0, errors.Wrapf(err, "add participant to call %d", callID)
	}

	b.publish(ctx, events.SubjectParticipantJoined, callID, roomID, userID)
	return callID, nil
}

// LeaveCall marks userID as having left callID. Best effort: there is nobody
// left to report a failure to.
func (b *CallBridge) LeaveCall(ctx context.Context, callID int64, roomID string, userID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.calls.RemoveParticipant(ctx, callID, userID); err != nil {
		b.log.Warn("failed to remove call participant", zap.Int64("call_id", callID), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	b.publish(ctx, events.SubjectParticipantLeft, callID, roomID, userID)
}

func (b *CallBridge) publish(ctx context.Context, subject string, callID int64, roomID string, userID int64) {
	ev := models.CallEvent{CallID: callID, RoomID: roomID, UserID: userID, At: b.now()}
	if err := b.events.Publish(ctx, subject, ev); err != nil {
		b.log.Warn("failed to publish call event", zap.String("subject", subject), zap.Int64("call_id", callID), zap.Error(err))
	}
}

func (b *CallBridge) lockRoom(roomID string) func() {
	l := b.locks.Upsert(roomID, nil, func(exist bool, current, _ *roomLock) *roomLock {
		if !exist {
			current = &roomLock{}
		}
		current.refs++
		return current
	})
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.locks.RemoveCb(roomID, func(_ string, current *roomLock, exists bool) bool {
			if !exists {
				return false
			}
			current.refs--
			return current.refs == 0
		})
	}
}

func firstActive(calls []models.Call) (models.Call, bool) {
	for _, c := range calls {
		if c.Status == models.CallStatusActive {
			return c, true
		}
	}
	return models.Call{}, false
}
