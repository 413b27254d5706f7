package vox_redis

import (
	"context"
	"time"

	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

const presenceKeyPrefix = "vox:presence:"

// PresenceMirror writes coarse user status into redis so sibling services
// (the REST tier, push workers) can answer "is this user online" without a
// round trip into this process.
type PresenceMirror struct {
	pool *RedisConnectionPool
	ttl  time.Duration
}

func NewPresenceMirror(pool *RedisConnectionPool, ttl time.Duration) *PresenceMirror {
	return &PresenceMirror{pool: pool, ttl: ttl}
}

func (m *PresenceMirror) SetStatus(ctx context.Context, userId string, status string) error {

	conn, _ := m.pool.GetConnection()
	key := presenceKeyPrefix + userId

	if status == "offline" {
		if err := conn.Del(ctx, key).Err(); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/ab6f12c94e80"), "could not clear presence key:", key, err)
			return err
		}
		return nil
	}

	if err := conn.Set(ctx, key, status, m.ttl).Err(); err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/74c0d9be5f13"), "could not set presence key:", key, err)
		return err
	}

	return nil
}
