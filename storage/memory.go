package storage

import (
	"context"
	"sync"
	"time"

	"github.com/soycyj/unline/domain"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process. It is what the server runs with
// when no database is configured.
type MemoryStore struct {
	locker  sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (ms *MemoryStore) liveLocked(key string) (memoryEntry, bool) {
	e, ok := ms.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !ms.now().Before(e.expiresAt) {
		delete(ms.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.locker.Lock()
	defer ms.locker.Unlock()

	e, ok := ms.liveLocked(key)
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.locker.Lock()
	defer ms.locker.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	ms.entries[key] = memoryEntry{value: stored, expiresAt: ms.now().Add(ttl)}
	return nil
}

func (ms *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.locker.Lock()
	defer ms.locker.Unlock()

	e, ok := ms.liveLocked(key)
	if !ok {
		return domain.ErrSnapshotNotFound
	}
	e.expiresAt = ms.now().Add(ttl)
	ms.entries[key] = e
	return nil
}

func (ms *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ms.locker.Lock()
	defer ms.locker.Unlock()

	var removed int64
	now := ms.now()
	for key, e := range ms.entries {
		if !now.Before(e.expiresAt) {
			delete(ms.entries, key)
			removed++
		}
	}
	return removed, nil
}
