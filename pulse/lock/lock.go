// Package lock provides per-engine execution slots. A slot is taken without
// waiting: a held slot means the engine is already running.
package lock

import (
	"context"
	"sync"

	"github.com/teranos/nexus/errors"
)

// Release frees a slot. Calling it more than once is harmless.
type Release func()

// Locker hands out at most one slot per key at a time.
// TryLock never blocks on a held key; it returns an error matching
// errors.ErrAlreadyRunning instead.
type Locker interface {
	TryLock(ctx context.Context, key string) (Release, error)
}

// KeyedMutex is the in-process Locker
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex creates an empty in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

// TryLock takes the slot for key if it is free
func (k *KeyedMutex) TryLock(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(err, errors.ErrTimeout)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return nil, alreadyRunning(key)
	}
	k.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, busy := k.held[key]
	return busy
}

func alreadyRunning(key string) error {
	return errors.Wrapf(errors.ErrAlreadyRunning, "%q", key)
}
