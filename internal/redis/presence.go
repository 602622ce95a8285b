package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceTTL bounds how long a mirrored room set outlives its last update.
const PresenceTTL = 24 * time.Hour

// Presence mirrors in-memory room presence into Redis sets so other services
// can read who is connected. Failures are logged and never returned.
type Presence struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *zap.Logger
}

func NewPresence(rdb redis.Cmdable, log *zap.Logger) *Presence {
	return &Presence{rdb: rdb, ttl: PresenceTTL, log: log.Named("presence")}
}

func peersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

func (p *Presence) Joined(ctx context.Context, roomID string, userID int64) {
	key := peersKey(roomID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, strconv.FormatInt(userID, 10))
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		p.log.Warn("failed to mirror join", zap.String("room_id", roomID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (p *Presence) Left(ctx context.Context, roomID string, userID int64) {
	if err := p.rdb.SRem(ctx, peersKey(roomID), strconv.FormatInt(userID, 10)).Err(); err != nil {
		p.log.Warn("failed to mirror leave", zap.String("room_id", roomID), zap.Int64("user_id", userID), zap.Error(err))
	}
}
