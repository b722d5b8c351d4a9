package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/domain"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary locker (Redis) and switches to the fallback
// (in-process) when the primary fails. While degraded, only instances sharing
// the process are serialized by locks; the store transaction still guards the write.
type FailoverLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l.usePrimary() {
		release, err := l.primary.Lock(ctx, keys...)
		if err == nil {
			if l.isDown.CompareAndSwap(true, false) {
				l.logger.Info().Msg("Primary locker recovered")
			}
			return release, nil
		}
		if errors.Is(err, ErrLockTimeout) {
			return nil, err
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.Lock(ctx, keys...)
}

// usePrimary reports whether the primary should be tried: always while healthy,
// once per recovery interval while down.
func (l *FailoverLocker) usePrimary() bool {
	if !l.isDown.Load() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.lastCheck) > recoveryInterval {
		l.lastCheck = l.now()
		return true
	}
	return false
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = l.now()
	l.mu.Unlock()
	l.isDown.Store(true)
}
