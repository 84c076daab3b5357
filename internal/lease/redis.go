package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/geoffrothman/smores/pkg/logx"
)

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Redis coordinates holders across processes with SET NX and a
// compare-and-delete release, so an expired lease is never deleted by its
// previous holder.
type Redis struct {
	client redis.UniversalClient
	prefix string
	log    logx.Logger
	token  func() string
}

func NewRedis(client redis.UniversalClient, prefix string, log logx.Logger) *Redis {
	if prefix == "" {
		prefix = "smores:lease:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		log:    log.With(logx.String("comp", "lease")),
		token:  uuid.NewString,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := r.prefix + key
	tok := r.token()
	ok, err := r.client.SetNX(ctx, full, tok, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := r.client.Eval(rctx, releaseScript, []string{full}, tok).Result()
			if err != nil {
				r.log.Warn("lease release failed", logx.String("key", key), logx.Err(err))
				return
			}
			if res == int64(0) {
				r.log.Warn("lease expired before release", logx.String("key", key))
			}
		})
	}, nil
}
