package coordination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore - Store в памяти процесса с фоновой очисткой истекших ключей.
// Подходит для одного инстанса и для тестов.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	logger *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Compile-time check
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates the store and starts a sweeper running every sweepInterval.
// A non-positive interval disables the sweeper; expired keys are still invisible to Get.
func NewMemoryStore(sweepInterval time.Duration, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		items:  make(map[string]memoryItem),
		now:    time.Now,
		logger: logger.Named("MemoryCoordinationStore"),
		stop:   make(chan struct{}),
	}
	if sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(sweepInterval)
	}
	return s
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug("Expired keys removed", zap.Int("count", removed))
			}
		case <-s.stop:
			return
		}
	}
}

// Sweep deletes expired keys and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
			removed++
		}
	}
	return removed
}

// Get returns the entry or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || !s.now().Before(it.expiresAt) {
		return Entry{}, ErrNotFound
	}
	return it.entry, nil
}

// Set stores the entry and resets its TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = memoryItem{entry: entry, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// SetIfAbsent stores the entry only when the key is missing or expired.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[key]; ok && now.Before(it.expiresAt) {
		return false, nil
	}
	s.items[key] = memoryItem{entry: entry, expiresAt: now.Add(ttl)}
	return true, nil
}

// CompareAndSet replaces a live entry written by the same run.
func (s *MemoryStore) CompareAndSet(ctx context.Context, key string, entry Entry, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok || !now.Before(it.expiresAt) || it.entry.RunID != entry.RunID {
		return false, nil
	}
	s.items[key] = memoryItem{entry: entry, expiresAt: now.Add(ttl)}
	return true, nil
}

// Delete removes keys; missing keys are ignored.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
