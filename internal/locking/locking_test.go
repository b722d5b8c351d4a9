package locking

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicbook/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "tenant:t1", TenantKey("t1"))
	assert.Equal(t, "tenant:t1:pro:p1", ProfessionalKey("t1", "p1"))
	assert.Equal(t, []string{"a", "b", "c"}, ordered([]string{"c", "a", "b", "a"}))
}

// exerciseLocker checks mutual exclusion and timeout behaviour common to every locker.
func exerciseLocker(t *testing.T, locker domain.Locker) {
	ctx := context.Background()

	t.Run("MutualExclusion", func(t *testing.T) {
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := locker.Lock(ctx, "tenant:t1:pro:b", "tenant:t1:pro:a")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				release()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
	})

	t.Run("Timeout", func(t *testing.T) {
		release, err := locker.Lock(ctx, "tenant:t1")
		require.NoError(t, err)
		defer release()

		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(short, "tenant:t1")
		assert.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("PartialAcquireReleased", func(t *testing.T) {
		release, err := locker.Lock(ctx, "k2")
		require.NoError(t, err)

		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(short, "k1", "k2")
		require.ErrorIs(t, err, ErrLockTimeout)
		release()

		// k1 was taken and must have been given back
		again, err := locker.Lock(ctx, "k1", "k2")
		require.NoError(t, err)
		again()
	})

	t.Run("ReleaseTwice", func(t *testing.T) {
		release, err := locker.Lock(ctx, "twice")
		require.NoError(t, err)
		release()
		release()

		again, err := locker.Lock(ctx, "twice")
		require.NoError(t, err)
		again()
	})
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	exerciseLocker(t, l)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.entries, "idle keys are dropped")
}

func TestRedisLocker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, 5*time.Second)
	exerciseLocker(t, l)

	t.Run("ForeignTokenKept", func(t *testing.T) {
		release, err := l.Lock(context.Background(), "expiring")
		require.NoError(t, err)

		// simulate expiry and takeover by another instance
		s.Del(l.prefix + "expiring")
		require.NoError(t, s.Set(l.prefix+"expiring", "someone-else"))

		release()
		got, err := s.Get(l.prefix + "expiring")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})

	t.Run("TTL", func(t *testing.T) {
		release, err := l.Lock(context.Background(), "ttl")
		require.NoError(t, err)
		defer release()
		assert.Equal(t, 5*time.Second, s.TTL(l.prefix+"ttl"))
	})
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	l := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"a"}).Return(noop, nil).Once()
		release, err := l.Lock(ctx, "a")
		require.NoError(t, err)
		assert.NotNil(t, release)
		primary.AssertExpectations(t)
	})

	t.Run("ContentionIsNotFailure", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"a"}).Return(nil, ErrLockTimeout).Once()
		_, err := l.Lock(ctx, "a")
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, l.isDown.Load())
	})

	t.Run("PrimaryFailure", func(t *testing.T) {
		primary.On("Lock", ctx, []string{"a"}).Return(nil, errors.New("connection refused")).Once()
		fallback.On("Lock", ctx, []string{"a"}).Return(noop, nil).Once()

		_, err := l.Lock(ctx, "a")
		require.NoError(t, err)
		assert.True(t, l.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallback", func(t *testing.T) {
		fallback.On("Lock", ctx, []string{"b"}).Return(noop, nil).Once()
		_, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		primary.AssertNotCalled(t, "Lock", ctx, []string{"b"})
	})

	t.Run("Recovery", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Lock", ctx, []string{"c"}).Return(noop, nil).Once()
		_, err := l.Lock(ctx, "c")
		require.NoError(t, err)
		assert.False(t, l.isDown.Load())
		primary.AssertExpectations(t)
	})
}
