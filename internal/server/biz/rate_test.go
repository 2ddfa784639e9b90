package biz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/zhenzou/executors"
)

func newRateService(t *testing.T, config Config, client *redis.Client) (*RateService, *fakeClock) {
	t.Helper()

	svc := NewRateService(RateServiceParams{
		Config:   config,
		Redis:    client,
		Executor: executors.NewPoolScheduleExecutor(),
	})

	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC))
	svc.now = clock.Now

	return svc, clock
}

func newRateRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return client
}

func TestRateService_CacheReservation(t *testing.T) {
	svc, _ := newRateService(t, Config{}, newRateRedis(t))
	ctx := context.Background()
	limit := 10

	// New callers get the window minus the cache reservation: 7 of 10.
	for i := 0; i < 7; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, false)
	require.NoError(t, err)
	require.False(t, ok)

	// Affinity holders may use the reserved remainder.
	for i := 0; i < 3; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = svc.AcquireSlot(ctx, "cred-a", &limit, true)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 10, svc.Count(ctx, "cred-a"))
}

func TestRateService_CheckAvailableDoesNotCount(t *testing.T) {
	svc, _ := newRateService(t, Config{}, newRateRedis(t))
	ctx := context.Background()
	limit := 10

	for i := 0; i < 7; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.False(t, svc.CheckAvailable(ctx, "cred-a", &limit, false))
	require.True(t, svc.CheckAvailable(ctx, "cred-a", &limit, true))

	// The read-only check consumed nothing.
	require.Equal(t, 7, svc.Count(ctx, "cred-a"))
}

func TestRateService_NilLimitAdmitsWithoutCounting(t *testing.T) {
	svc, _ := newRateService(t, Config{}, newRateRedis(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", nil, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.True(t, svc.CheckAvailable(ctx, "cred-a", nil, false))
	require.Equal(t, 0, svc.Count(ctx, "cred-a"))

	// Same contract without Redis.
	mem, _ := newRateService(t, Config{}, nil)

	ok, err := mem.AcquireSlot(ctx, "cred-a", nil, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, mem.Count(ctx, "cred-a"))
}

func TestRateService_WindowRollover(t *testing.T) {
	svc, clock := newRateService(t, Config{}, newRateRedis(t))
	ctx := context.Background()
	limit := 2

	for i := 0; i < 2; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
	require.NoError(t, err)
	require.False(t, ok)

	clock.Advance(61 * time.Second)

	ok, err = svc.AcquireSlot(ctx, "cred-a", &limit, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, svc.Count(ctx, "cred-a"))
}

func TestRateService_Reset(t *testing.T) {
	svc, _ := newRateService(t, Config{}, newRateRedis(t))
	ctx := context.Background()
	limit := 5

	for i := 0; i < 3; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := 0; i < 2; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-b", &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, svc.ResetCredential(ctx, "cred-a"))
	require.Equal(t, 0, svc.Count(ctx, "cred-a"))
	require.Equal(t, 2, svc.Count(ctx, "cred-b"))

	require.NoError(t, svc.ResetAll(ctx))
	require.Equal(t, 0, svc.Count(ctx, "cred-b"))
}

func TestRateService_MemoryMode(t *testing.T) {
	svc, clock := newRateService(t, Config{}, nil)
	ctx := context.Background()
	limit := 10

	for i := 0; i < 7; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, false)
	require.NoError(t, err)
	require.False(t, ok)

	for i := 0; i < 3; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = svc.AcquireSlot(ctx, "cred-a", &limit, true)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 10, svc.Count(ctx, "cred-a"))
	require.False(t, svc.CheckAvailable(ctx, "cred-a", &limit, true))

	// Bucket switch empties the window.
	clock.Advance(61 * time.Second)
	require.Equal(t, 0, svc.Count(ctx, "cred-a"))

	ok, err = svc.AcquireSlot(ctx, "cred-a", &limit, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRateService_MemoryEviction(t *testing.T) {
	svc, _ := newRateService(t, Config{
		Rate: RateConfig{MemoryMaxEntries: 3},
	}, nil)
	ctx := context.Background()
	limit := 5

	for _, credentialID := range []string{"k1", "k2", "k3", "k4", "k5"} {
		ok, err := svc.AcquireSlot(ctx, credentialID, &limit, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.LessOrEqual(t, svc.memory.size(), 3)
}

func TestRateService_DegradedFallbackHalvesLimit(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	svc, _ := newRateService(t, Config{}, client)
	ctx := context.Background()
	limit := 10

	ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
	require.NoError(t, err)
	require.True(t, ok)

	// Kill the backend; admission degrades to the in-process counter with
	// the limit halved.
	mr.Close()

	admitted := 0

	for i := 0; i < 6; i++ {
		ok, err := svc.AcquireSlot(ctx, "cred-a", &limit, true)
		require.NoError(t, err)

		if ok {
			admitted++
		}
	}

	require.Equal(t, 5, admitted)
}
