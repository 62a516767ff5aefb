package checkpoint

import (
	"context"
	"sync"
)

type MemoryStore struct {
	lock   sync.Mutex
	value  int64
	set    bool
	writes []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a store already holding value.
func NewMemoryStoreWith(value int64) *MemoryStore {
	return &MemoryStore{value: value, set: true}
}

func (s *MemoryStore) String() string {
	return "memory"
}

func (s *MemoryStore) Exists(ctx context.Context) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.set, nil
}

func (s *MemoryStore) Read(ctx context.Context) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.set {
		return 0, ErrNotFound
	}

	return s.value, nil
}

func (s *MemoryStore) Write(ctx context.Context, value int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.value = value
	s.set = true
	s.writes = append(s.writes, value)
	return nil
}

// Writes returns every value written so far, in order.
func (s *MemoryStore) Writes() []int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]int64(nil), s.writes...)
}

func (s *MemoryStore) Close() error {
	return nil
}
