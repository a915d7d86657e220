package cache

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/storage/memory"
	"stockflow/pkg/logger"
)

// unreachable returns a client whose every command fails fast.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// memoryRedis answers GET, SET and DEL from a map inside a process hook, so
// commands never reach the network.
type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("memoryRedis does not dial %s", addr)
	}
}

func (m *memoryRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memoryRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		args := cmd.Args()
		switch c := cmd.(type) {
		case *redis.StringCmd:
			v, ok := m.data[fmt.Sprint(args[1])]
			if !ok {
				return redis.Nil
			}
			c.SetVal(v)
		case *redis.StatusCmd:
			switch v := args[2].(type) {
			case []byte:
				m.data[fmt.Sprint(args[1])] = string(v)
			default:
				m.data[fmt.Sprint(args[1])] = fmt.Sprint(v)
			}
			c.SetVal("OK")
		case *redis.IntCmd:
			var n int64
			for _, k := range args[1:] {
				if _, ok := m.data[fmt.Sprint(k)]; ok {
					delete(m.data, fmt.Sprint(k))
					n++
				}
			}
			c.SetVal(n)
		default:
			return fmt.Errorf("memoryRedis: unsupported command %s", cmd.Name())
		}
		return nil
	}
}

func (m *memoryRedis) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func newMemoryRedis(t *testing.T) (*redis.Client, *memoryRedis) {
	t.Helper()
	fake := &memoryRedis{data: map[string]string{}}
	rdb := redis.NewClient(&redis.Options{Addr: "memory:0", MaxRetries: -1})
	rdb.AddHook(fake)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, fake
}

// readDuringDelete reads through the cache right before the backing row goes
// away, as a concurrent request would.
type readDuringDelete struct {
	*memory.Store
	cache *SKUMappingCache
}

func (r *readDuringDelete) DeleteSKUMapping(ctx context.Context, sku string) error {
	if _, _, err := r.cache.GetSKUMapping(ctx, sku); err != nil {
		return err
	}
	return r.Store.DeleteSKUMapping(ctx, sku)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "stockflow:tn_sku_map:WHEY-VAN", Key("WHEY-VAN"))
}

func TestSKUMappingCache_FallsBackToBackingStore(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	c := NewSKUMappingCache(unreachable(t), backing, 0, logger.Nop())

	want := stocksync.Mapping{ProductID: "10", VariantID: "11"}
	require.NoError(t, c.SetSKUMapping(ctx, "SKU", want))

	got, ok, err := backing.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok, err = c.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = c.GetSKUMapping(ctx, "OTHER")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSKUMappingCache_DeleteFailsWhenEvictionFails(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	require.NoError(t, backing.SetSKUMapping(ctx, "SKU", stocksync.Mapping{ProductID: "1", VariantID: "2"}))
	c := NewSKUMappingCache(unreachable(t), backing, time.Hour, logger.Nop())

	require.Error(t, c.DeleteSKUMapping(ctx, "SKU"))

	_, ok, err := backing.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	assert.True(t, ok, "backing entry is kept when the cache could not be evicted")
}

func TestSKUMappingCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	rdb, fake := newMemoryRedis(t)
	backing := memory.New()
	want := stocksync.Mapping{ProductID: "10", VariantID: "11"}
	require.NoError(t, backing.SetSKUMapping(ctx, "SKU", want))
	c := NewSKUMappingCache(rdb, backing, time.Hour, logger.Nop())

	got, ok, err := c.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, fake.has(Key("SKU")))

	// served from redis once cached
	require.NoError(t, backing.DeleteSKUMapping(ctx, "SKU"))
	got, ok, err = c.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestSKUMappingCache_DeleteLeavesNoStaleEntry(t *testing.T) {
	ctx := context.Background()
	rdb, fake := newMemoryRedis(t)
	store := memory.New()
	backing := &readDuringDelete{Store: store}
	c := NewSKUMappingCache(rdb, backing, 0, logger.Nop())
	backing.cache = c

	require.NoError(t, c.SetSKUMapping(ctx, "SKU", stocksync.Mapping{ProductID: "1", VariantID: "2"}))
	require.NoError(t, c.DeleteSKUMapping(ctx, "SKU"))

	assert.False(t, fake.has(Key("SKU")))
	_, ok, err := c.GetSKUMapping(ctx, "SKU")
	require.NoError(t, err)
	assert.False(t, ok)
}
