// Package lease provides the single-writer discipline for passes: a unit of
// work (a channel or a batch) is processed only by the holder of its lease.
package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geoffrothman/smores/pkg/logx"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lease: held by another worker")

// Locker acquires expiring leases. release is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Config selects the backend.
type Config struct {
	Driver    string // "local" (default), "redis" or "none"
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open builds the configured Locker. The returned close func releases backend
// resources.
func Open(cfg Config, log logx.Logger) (Locker, func() error, error) {
	noClose := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "local":
		return NewLocal(), noClose, nil
	case "none":
		return Nop{}, noClose, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return NewRedis(client, cfg.KeyPrefix, log), client.Close, nil
	default:
		return nil, nil, errors.New("unknown lease driver: " + cfg.Driver)
	}
}

// Nop grants every lease.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }

// Local serializes holders within one process.
type Local struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]localLease
	seq  uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{now: time.Now, held: map[string]localLease{}}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	l.seq++
	id := l.seq
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.id == id {
				delete(l.held, key)
			}
		})
	}, nil
}
