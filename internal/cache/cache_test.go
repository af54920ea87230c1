package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "geo:all", []byte("fc"), time.Minute))
	got, err := m.Get(ctx, "geo:all")
	require.NoError(t, err)
	assert.Equal(t, []byte("fc"), got)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "geo:all")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "geo:a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "geo:b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "quantiles:5", []byte("3"), 0))

	require.NoError(t, m.DeletePrefix(ctx, "geo:"))

	_, err := m.Get(ctx, "geo:a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "quantiles:5")
	assert.NoError(t, err)
}

func TestLoaderFillsOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(), time.Minute, zap.NewNop())

	var calls int32
	release := make(chan struct{})
	fill := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("payload"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := l.GetOrLoad(ctx, "geo:all", "geo", fill)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, []byte("payload"), r)
	}

	// served from cache now
	data, err := l.GetOrLoad(ctx, "geo:all", "geo", func(context.Context) ([]byte, error) {
		t.Fatal("fill called on a warm cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestLoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(), time.Minute, zap.NewNop())

	boom := errors.New("db down")
	_, err := l.GetOrLoad(ctx, "k", "geo", func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	data, err := l.GetOrLoad(ctx, "k", "geo", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)

	require.NoError(t, l.Invalidate(ctx, "k"))
	data, err = l.GetOrLoad(ctx, "k", "geo", func(context.Context) ([]byte, error) { return []byte("fresh"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)
}
