package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is the in-process Locker for single instance deployments
// (LOCK_BACKEND=local) and tests.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]chan struct{}
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		locks: make(map[uuid.UUID]chan struct{}),
	}
}

func (l *LocalLocker) sem(doctorID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[doctorID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[doctorID] = ch
	}
	return ch
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	ch := l.sem(doctorID)

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	select {
	case ch <- struct{}{}:
	case <-waitCtx.Done():
		return ErrLockNotAcquired
	}
	defer func() { <-ch }()

	return fn(ctx)
}
