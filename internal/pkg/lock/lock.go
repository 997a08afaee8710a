package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "docgen:lock:"

// 只有持有者 token 一致时才删除，防止误删他人续上的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker 基于 Redis SETNX 的租约锁
type Locker struct {
	client *redis.Client
}

// Lease 已获得的锁
type Lease struct {
	Key   string
	Token string
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// RepositoryKey 同一仓库的串行锁
func RepositoryKey(repositoryID int64) string {
	return fmt.Sprintf("repo:%d", repositoryID)
}

// Acquire 尝试获取锁，被占用时返回 nil, nil
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{Key: key, Token: token}, nil
}

// Release 释放锁，返回是否仍由自己持有
func (l *Locker) Release(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + lease.Key}, lease.Token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", lease.Key, err)
	}
	return n == 1, nil
}

// Refresh 延长租约
func (l *Locker) Refresh(ctx context.Context, lease *Lease, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{keyPrefix + lease.Key}, lease.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock %s: %w", lease.Key, err)
	}
	return n == 1, nil
}
