package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SpacesDispatches(t *testing.T) {
	g := NewGate(20, 16) // 50ms spacing
	defer g.Close()

	ctx := context.Background()
	var stamps []time.Time
	for i := 0; i < 3; i++ {
		err := g.Do(ctx, func(ctx context.Context) error {
			stamps = append(stamps, time.Now())
			return nil
		})
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		// small tolerance for timer granularity
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 45*time.Millisecond)
	}
}

func TestGate_OneCallAtATime(t *testing.T) {
	g := NewGate(1000, 64)
	defer g.Close()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestGate_FIFO(t *testing.T) {
	g := NewGate(1000, 64)
	defer g.Close()

	// Block the consumer so the following calls queue up in a known order.
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// let each caller reach the queue before the next one
		require.Eventually(t, func() bool { return len(g.tasks) == i+1 }, time.Second, time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGate_PropagatesError(t *testing.T) {
	g := NewGate(100, 1)
	defer g.Close()

	boom := errors.New("boom")
	err := g.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestGate_Closed(t *testing.T) {
	g := NewGate(100, 1)
	g.Close()

	err := g.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGate_Interval(t *testing.T) {
	g := NewGate(2, 1)
	defer g.Close()
	assert.Equal(t, 500*time.Millisecond, g.Interval())

	low := NewGate(0, 1)
	defer low.Close()
	assert.Equal(t, time.Second, low.Interval())
}
