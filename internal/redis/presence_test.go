package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPeersKey(t *testing.T) {
	assert.Equal(t, "room:abc:peers", peersKey("abc"))
}

func TestPresence_FailuresAreLoggedNotReturned(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	core, logs := observer.New(zap.WarnLevel)
	p := NewPresence(rdb, zap.New(core))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Joined(ctx, "r1", 1)
	p.Left(ctx, "r1", 1)

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, "failed to mirror join", logs.All()[0].Message)
	assert.Equal(t, "failed to mirror leave", logs.All()[1].Message)
}
