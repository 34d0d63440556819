package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// unlockScript deletes the key only when it still carries our token, so a
// holder whose lock already expired cannot delete the next holder's lock.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Redis implements Backend with SET NX PX. The ttl doubles as the crash
// recovery ceiling: a holder that dies stops blocking others once it expires.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "aot:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
}

func (r *Redis) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err()
}
