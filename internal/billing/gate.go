package billing

import (
	"context"
	"sync"
	"time"

	"agency-billing/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Gate sheds duplicate opportunistic syncs. It is an optimization only:
// exactly-once billing comes from the usage claim, never from the gate.
type Gate interface {
	// TryAcquire returns ok=false when a sync for key is already running.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// RedisGate holds one slot per scope across all API instances.
// The TTL frees slots leaked by crashed processes.
type RedisGate struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGate(rdb *redis.Client, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisGate{rdb: rdb, ttl: ttl}
}

func (g *RedisGate) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	k := "billing:sync:" + key
	ok, err := utils.AcquireSlot(ctx, g.rdb, k, 1, g.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseSlot(rctx, g.rdb, k)
	}, true, nil
}

// MemoryGate is a process-local Gate for tests and single-instance tooling.
type MemoryGate struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGate() *MemoryGate { return &MemoryGate{held: map[string]struct{}{}} }

func (g *MemoryGate) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return func() {}, false, nil
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}
