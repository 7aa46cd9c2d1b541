package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestJitteredTTL(t *testing.T) {
	base := time.Hour
	for i := 0; i < 100; i++ {
		ttl := jitteredTTL(base)
		assert.GreaterOrEqual(t, ttl, base-base/10)
		assert.LessOrEqual(t, ttl, base+base/10)
	}
	assert.Equal(t, time.Duration(0), jitteredTTL(0))
}
