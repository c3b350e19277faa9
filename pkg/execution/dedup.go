package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// Deduper suppresses duplicate handler invocations inside a short
// window. Seen returns true when an identical invocation already ran.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

// DedupKey fingerprints one invocation. Params are serialized with
// sorted keys so map iteration order cannot split identical calls.
func DedupKey(tenant, room, user, action string, params map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|", tenant, room, user, action)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(params[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	return "dedup:" + hex.EncodeToString(h.Sum(nil))
}

// RedisDeduper stores dedup marks in redis so the window holds across
// replicas.
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDeduper(cfg *config.RedisConfig, window time.Duration) *RedisDeduper {
	return &RedisDeduper{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		window: window,
	}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.client.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("[Execution:Dedup] redis setnx failed: %w", err)
	}
	return !set, nil
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// LocalDeduper is the single-process fallback used when redis is not
// configured.
type LocalDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewLocalDeduper(window time.Duration) *LocalDeduper {
	return &LocalDeduper{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

func (d *LocalDeduper) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.window {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

func (d *LocalDeduper) Close() error {
	return nil
}

// NewDeduper picks redis when configured, otherwise the local fallback.
func NewDeduper(cfg *config.RedisConfig, window time.Duration) Deduper {
	if cfg != nil && cfg.Addr != "" {
		return NewRedisDeduper(cfg, window)
	}
	return NewLocalDeduper(window)
}
