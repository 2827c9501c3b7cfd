package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the latest snapshot of each cell in process memory.
// It is the default backend of a single daemon instance.
//
// With a TTL, snapshots older than the TTL are hidden from GetLatest at once
// and swept from the map by a background goroutine; call Stop to end it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration
	now       func() time.Time

	stop     context.CancelFunc
	swept    sync.WaitGroup
	stopOnce sync.Once
}

// NewMemoryStore creates a store that keeps snapshots until they are
// replaced or deleted.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
		now:       time.Now,
	}
}

// NewMemoryStoreWithTTL creates a store whose snapshots expire after ttl.
// Expired entries are swept every sweepEvery (one minute when <= 0).
// It panics if ttl is not positive.
func NewMemoryStoreWithTTL(ttl, sweepEvery time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("storage: memory store TTL must be positive")
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	s := NewMemoryStore()
	s.ttl = ttl

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.swept.Add(1)
	go s.sweepLoop(ctx, sweepEvery)

	return s
}

// Stop ends the sweeper and waits for it. It is a no-op without a TTL and
// safe to call more than once.
func (s *MemoryStore) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.stop()
		s.swept.Wait()
	})
}

func (s *MemoryStore) sweepLoop(ctx context.Context, every time.Duration) {
	defer s.swept.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for cell, snapshot := range s.snapshots {
		if s.expired(snapshot) {
			delete(s.snapshots, cell)
		}
	}
}

func (s *MemoryStore) expired(snapshot Snapshot) bool {
	return s.ttl > 0 && s.now().Sub(snapshot.GeneratedAt) > s.ttl
}

// Put replaces the snapshot of snapshot.Cell.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := ValidateCellName(snapshot.Cell); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshots[snapshot.Cell] = snapshot
	s.mu.Unlock()
	return nil
}

// GetLatest returns the snapshot of cell. found is false when none is
// stored or it has expired.
func (s *MemoryStore) GetLatest(ctx context.Context, cell string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	snapshot, found := s.snapshots[cell]
	s.mu.RUnlock()

	if !found || s.expired(snapshot) {
		return Snapshot{}, false, nil
	}
	return snapshot, true, nil
}

// Delete drops the snapshot of cell and reports whether one was stored.
func (s *MemoryStore) Delete(ctx context.Context, cell string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[cell]
	delete(s.snapshots, cell)
	return existed, nil
}

// Len returns the number of stored snapshots, expired ones included until
// they are swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
