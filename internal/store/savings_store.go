// Package store records per-request savings accounting. Writes happen after
// the response is sent; a failing store must never affect a request.
package store

import (
	"context"
	"sync"

	"github.com/dunamismax/pixelthrift/internal/domain"
)

type SavingsStore interface {
	Record(ctx context.Context, entry domain.SavingsLog) error
}

// MemorySavingsStore keeps running totals in process. It is the default when
// no postgres DSN is configured and doubles as the test double.
type MemorySavingsStore struct {
	mu      sync.Mutex
	entries []domain.SavingsLog
	saved   int64
}

func NewMemorySavingsStore() *MemorySavingsStore {
	return &MemorySavingsStore{}
}

func (s *MemorySavingsStore) Record(_ context.Context, entry domain.SavingsLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	s.saved += entry.BytesSaved
	return nil
}

func (s *MemorySavingsStore) TotalBytesSaved() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *MemorySavingsStore) Entries() []domain.SavingsLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SavingsLog, len(s.entries))
	copy(out, s.entries)
	return out
}
