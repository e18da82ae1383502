package repositories

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedMutex hands out one exclusive slot per key. Slots are created on
// demand and dropped once no caller holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]*keySlot)}
}

// Lock acquires every key in order. Callers pass keys sorted so that two
// overlapping scopes cannot deadlock. On failure nothing stays held.
func (k *keyedMutex) Lock(ctx context.Context, keys []string) error {
	for i, key := range keys {
		if err := k.lockOne(ctx, key); err != nil {
			k.Unlock(keys[:i])
			return err
		}
	}
	return nil
}

// Unlock releases keys previously acquired with Lock.
func (k *keyedMutex) Unlock(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.release(keys[i], true)
	}
}

func (k *keyedMutex) lockOne(ctx context.Context, key string) error {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &keySlot{sem: semaphore.NewWeighted(1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		k.release(key, false)
		return err
	}
	return nil
}

func (k *keyedMutex) release(key string, held bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	slot, ok := k.slots[key]
	if !ok {
		return
	}
	if held {
		slot.sem.Release(1)
	}
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

// held reports how many keys currently have a slot. Useful for tests.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
