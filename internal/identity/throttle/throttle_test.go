package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestThrottle(t *testing.T, maxAttempts int, window time.Duration) (*LoginThrottle, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLoginThrottle(client, maxAttempts, window), mr
}

func TestThrottleAllowsUnderLimit(t *testing.T) {
	th, _ := newTestThrottle(t, 3, time.Minute)
	ctx := context.Background()

	require.NoError(t, th.Check(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.Check(ctx, "alice", "10.0.0.1"))
}

func TestThrottleTripsAtLimit(t *testing.T) {
	th, _ := newTestThrottle(t, 3, time.Minute)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	}
	require.ErrorIs(t, th.Check(ctx, "alice", "10.0.0.1"), ErrTooManyAttempts)

	// A different username from a different IP is unaffected.
	require.NoError(t, th.Check(ctx, "bob", "10.0.0.2"))
}

func TestThrottleIPCounterIsShared(t *testing.T) {
	th, _ := newTestThrottle(t, 3, time.Minute)
	ctx := context.Background()

	// Same IP trying many usernames still trips the IP counter.
	for _, user := range []string{"a", "b", "c"} {
		require.NoError(t, th.RecordFailure(ctx, user, "10.0.0.9"))
	}
	require.ErrorIs(t, th.Check(ctx, "d", "10.0.0.9"), ErrTooManyAttempts)
}

func TestThrottleWindowExpires(t *testing.T) {
	th, mr := newTestThrottle(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, th.RecordFailure(ctx, "alice", ""))
	require.NoError(t, th.RecordFailure(ctx, "alice", ""))
	require.ErrorIs(t, th.Check(ctx, "alice", ""), ErrTooManyAttempts)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, th.Check(ctx, "alice", ""))
}

func TestThrottleResetClearsCounters(t *testing.T) {
	th, _ := newTestThrottle(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	require.ErrorIs(t, th.Check(ctx, "alice", "10.0.0.1"), ErrTooManyAttempts)

	require.NoError(t, th.Reset(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.Check(ctx, "alice", "10.0.0.1"))
}

func TestNilThrottleDisablesLimiting(t *testing.T) {
	var th *LoginThrottle
	ctx := context.Background()

	require.NoError(t, th.Check(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.RecordFailure(ctx, "alice", "10.0.0.1"))
	require.NoError(t, th.Reset(ctx, "alice", "10.0.0.1"))
}
