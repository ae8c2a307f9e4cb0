package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const lockPollInterval = 10 * time.Millisecond

// Locker implements ports.Locker with SET NX PX leases, for deployments
// running more than one ledger process against the same database.
type Locker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewLocker creates a Redis lock manager. ttl bounds how long a crashed holder blocks others.
func NewLocker(client goredis.UniversalClient, ttl time.Duration, log zerolog.Logger) *Locker {
	return &Locker{
		client: client,
		prefix: keyPrefix + "lock:",
		ttl:    ttl,
		log:    log,
	}
}

// Acquire polls for the lease until it is granted, wait elapses or ctx ends.
func (l *Locker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s", ports.ErrLockTimeout, key)
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *Locker) releaser(redisKey, token string) func() {
	return func() {
		// Release must run even when the request context is already canceled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			l.log.Warn().Err(err).Str("lock", redisKey).Msg("Failed to release redis lock")
		}
	}
}
