package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_RequiresRefreshFunc(t *testing.T) {
	assert.Panics(t, func() {
		NewCache(Options[int]{
			RefreshInterval: time.Minute,
		})
	})
}

func TestNewCache_RequiresRefreshInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewCache(Options[int]{
			RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
				return current, lastUpdate, false, nil
			},
		})
	})
}

func TestCache_InitialValue(t *testing.T) {
	c := NewCache(Options[string]{
		Name:         "test",
		InitialValue: "initial",
		RefreshFunc: func(ctx context.Context, current string, lastUpdate time.Time) (string, time.Time, bool, error) {
			return current, lastUpdate, false, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	assert.Equal(t, "initial", c.GetData())
	assert.True(t, c.GetLastUpdate().IsZero())
}

func TestCache_Load(t *testing.T) {
	updateTime := time.Now()

	c := NewCache(Options[string]{
		Name: "test",
		RefreshFunc: func(ctx context.Context, current string, lastUpdate time.Time) (string, time.Time, bool, error) {
			return "loaded", updateTime, true, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	err := c.Load(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, "loaded", c.GetData())
	assert.Equal(t, updateTime, c.GetLastUpdate())
}

func TestCache_Load_SkipsWhenUnchanged(t *testing.T) {
	var calls atomic.Int32

	c := NewCache(Options[int]{
		Name:         "test",
		InitialValue: 42,
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			calls.Add(1)
			return 99, time.Now(), false, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	err := c.Load(context.Background(), false)
	require.NoError(t, err)

	// Data should not be swapped when the refresh reports no changes.
	assert.Equal(t, 42, c.GetData())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_Load_ForceAppliesUnchangedData(t *testing.T) {
	c := NewCache(Options[int]{
		Name:         "test",
		InitialValue: 42,
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			// Force passes a zero fingerprint so a full reload is expected.
			assert.True(t, lastUpdate.IsZero())
			return 99, time.Now(), false, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	err := c.Load(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 99, c.GetData())
}

func TestCache_Load_Error(t *testing.T) {
	refreshErr := errors.New("refresh failed")

	c := NewCache(Options[string]{
		Name:         "test",
		InitialValue: "initial",
		RefreshFunc: func(ctx context.Context, current string, lastUpdate time.Time) (string, time.Time, bool, error) {
			return "", time.Time{}, false, refreshErr
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	err := c.Load(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, refreshErr)

	// Old data stays intact on refresh failure.
	assert.Equal(t, "initial", c.GetData())
}

func TestCache_Load_PassesCurrentData(t *testing.T) {
	var got string

	var mu sync.Mutex

	c := NewCache(Options[string]{
		Name:         "test",
		InitialValue: "seed",
		RefreshFunc: func(ctx context.Context, current string, lastUpdate time.Time) (string, time.Time, bool, error) {
			mu.Lock()
			got = current
			mu.Unlock()

			return current + "+delta", time.Now(), true, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	require.NoError(t, c.Load(context.Background(), false))

	mu.Lock()
	assert.Equal(t, "seed", got)
	mu.Unlock()

	assert.Equal(t, "seed+delta", c.GetData())
}

func TestCache_PeriodicRefresh(t *testing.T) {
	var calls atomic.Int32

	c := NewCache(Options[int]{
		Name: "test",
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			return int(calls.Add(1)), time.Now(), true, nil
		},
		RefreshInterval: 20 * time.Millisecond,
	})
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_TriggerAsyncReload_Debounced(t *testing.T) {
	var calls atomic.Int32

	c := NewCache(Options[int]{
		Name: "test",
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			return int(calls.Add(1)), time.Now(), true, nil
		},
		RefreshInterval: time.Hour,
		DebounceDelay:   30 * time.Millisecond,
	})
	defer c.Stop()

	// Burst of triggers should coalesce into a single refresh.
	for range 5 {
		c.TriggerAsyncReload()
	}

	assert.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_Stop_Idempotent(t *testing.T) {
	c := NewCache(Options[int]{
		Name: "test",
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			return current, lastUpdate, false, nil
		},
		RefreshInterval: time.Hour,
	})

	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}

func TestCache_ConcurrentLoad(t *testing.T) {
	var calls atomic.Int32

	c := NewCache(Options[int]{
		Name: "test",
		RefreshFunc: func(ctx context.Context, current int, lastUpdate time.Time) (int, time.Time, bool, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)

			return 7, time.Now(), true, nil
		},
		RefreshInterval: time.Hour,
	})
	defer c.Stop()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = c.Load(context.Background(), false)
		}()
	}

	wg.Wait()

	// singleflight should have collapsed most concurrent loads.
	assert.LessOrEqual(t, calls.Load(), int32(3))
	assert.Equal(t, 7, c.GetData())
}
