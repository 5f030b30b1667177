package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCounter struct {
	mu    sync.Mutex
	count int
	err   error
	calls int
}

func (s *stubCounter) CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.count, s.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(counter FailureCounter) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	return New(DefaultConfig(), counter, zap.NewNop(), WithClock(c.now)), c
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	l, _ := newLimiter(nil)
	ctx := context.Background()
	ip := "203.0.113.9"

	for i := 1; i <= 4; i++ {
		require.Equal(t, i, l.OnFailure(ip))
		require.False(t, l.Check(ctx, ip).Blocked, "attempt %d", i)
	}
	require.Equal(t, 5, l.OnFailure(ip))

	d := l.Check(ctx, ip)
	require.True(t, d.Blocked)
	require.Equal(t, 15*time.Minute, d.RetryAfter)

	l.OnSuccess(ip)
	require.False(t, l.Check(ctx, ip).Blocked)
}

func TestLockoutExpires(t *testing.T) {
	l, c := newLimiter(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.OnFailure("ip")
	}
	c.advance(15*time.Minute - time.Second)
	require.True(t, l.Check(ctx, "ip").Blocked)

	c.advance(2 * time.Second)
	d := l.Check(ctx, "ip")
	require.False(t, d.Blocked)
	require.Zero(t, d.Attempts)
}

func TestWindowResetsCount(t *testing.T) {
	l, c := newLimiter(nil)
	require.Equal(t, 1, l.OnFailure("ip"))
	require.Equal(t, 2, l.OnFailure("ip"))
	c.advance(15*time.Minute + time.Second)
	require.Equal(t, 1, l.OnFailure("ip"))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(nil)
	for i := 0; i < 5; i++ {
		l.OnFailure("a")
	}
	require.True(t, l.Check(context.Background(), "a").Blocked)
	require.False(t, l.Check(context.Background(), "b").Blocked)
}

func TestPersistedCountBlocks(t *testing.T) {
	counter := &stubCounter{count: 5}
	l, _ := newLimiter(counter)

	d := l.Check(context.Background(), "198.51.100.4")
	require.True(t, d.Blocked)
	require.Equal(t, 5, d.Attempts)
	require.Equal(t, 1, counter.calls)

	counter.count = 4
	require.False(t, l.Check(context.Background(), "198.51.100.4").Blocked)
}

func TestLocalBlockSkipsPersistedQuery(t *testing.T) {
	counter := &stubCounter{}
	l, _ := newLimiter(counter)
	for i := 0; i < 5; i++ {
		l.OnFailure("ip")
	}
	require.True(t, l.Check(context.Background(), "ip").Blocked)
	require.Zero(t, counter.calls)
}

func TestPersistedErrorIsReported(t *testing.T) {
	counter := &stubCounter{err: errors.New("db down")}
	l, _ := newLimiter(counter)
	l.OnFailure("ip")
	d := l.Check(context.Background(), "ip")
	require.Error(t, d.Err)
	require.False(t, d.Blocked)
	require.Equal(t, 1, d.Attempts)

	for i := 0; i < 4; i++ {
		l.OnFailure("ip")
	}
	d = l.Check(context.Background(), "ip")
	require.True(t, d.Blocked)
	require.NoError(t, d.Err)
}

func TestDelay(t *testing.T) {
	l, _ := newLimiter(nil)
	assert.Equal(t, 400*time.Millisecond, l.Delay(0))
	assert.Equal(t, 650*time.Millisecond, l.Delay(1))
	assert.Equal(t, 1650*time.Millisecond, l.Delay(5))
	assert.Equal(t, 2400*time.Millisecond, l.Delay(8))
	assert.Equal(t, 2500*time.Millisecond, l.Delay(9))
	assert.Equal(t, 2500*time.Millisecond, l.Delay(100))
	assert.Equal(t, 400*time.Millisecond, l.Delay(-3))
}

func TestPrune(t *testing.T) {
	l, c := newLimiter(nil)
	l.OnFailure("stale")
	l.OnFailure("locked")
	c.advance(14 * time.Minute)
	for i := 0; i < 4; i++ {
		l.OnFailure("locked")
	}
	c.advance(6 * time.Minute)

	// "locked" is past its window but still inside its lockout.
	require.Equal(t, 1, l.Prune())
	require.Equal(t, 1, l.Len())
	require.True(t, l.Check(context.Background(), "locked").Blocked)
}

func TestEmptyKeyIsTracked(t *testing.T) {
	l, _ := newLimiter(nil)
	for i := 0; i < 5; i++ {
		l.OnFailure("")
	}
	require.True(t, l.Check(context.Background(), "").Blocked)
}

func TestConcurrentFailures(t *testing.T) {
	l := New(Config{MaxAttempts: 1000}, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.OnFailure("ip")
			_ = l.Check(context.Background(), "ip")
		}()
	}
	wg.Wait()
	require.Equal(t, 51, l.OnFailure("ip"))
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), 0))
	require.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
