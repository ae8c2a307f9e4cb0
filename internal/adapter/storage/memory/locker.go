package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"prepaid-card-ledger/internal/core/ports"
)

// KeyedLocker implements ports.Locker for a single process. Each key is a
// one-slot channel; entries are dropped once nobody holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	slot chan struct{}
	refs int
}

// NewKeyedLocker creates an in-process lock manager.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kl := l.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case kl.slot <- struct{}{}:
		return sync.OnceFunc(func() {
			<-kl.slot
			l.unref(key)
		}), nil
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key)
		return nil, fmt.Errorf("%w: %s", ports.ErrLockTimeout, key)
	}
}

func (l *KeyedLocker) ref(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are tracked.
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
