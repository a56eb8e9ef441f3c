package retry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store holds the retry queue and the dead-letter collection.
type Store interface {
	Add(ctx context.Context, r *Record) error
	// Due returns pending records with NextAttemptAt <= now, oldest first, at most limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	// MoveToDeadLetter copies r to the dead-letter collection and removes it from the queue.
	MoveToDeadLetter(ctx context.Context, r *Record, reason string, at time.Time) error
	// DeadLetters lists dead-lettered records, newest first, at most limit.
	DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
	// Pending counts queued records.
	Pending(ctx context.Context) (int, error)
}

// MemoryStore is an in-process Store. It does not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	queue   map[string]*Record
	letters []*DeadLetter
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queue: make(map[string]*Record)}
}

func (s *MemoryStore) Add(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[r.ID]; ok {
		return fmt.Errorf("retry record %s already queued", r.ID)
	}
	s.queue[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.queue {
		if r.Status == StatusPending && !r.NextAttemptAt.After(now) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[r.ID]; !ok {
		return fmt.Errorf("retry record %s not found", r.ID)
	}
	s.queue[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, id)
	return nil
}

func (s *MemoryStore) MoveToDeadLetter(_ context.Context, r *Record, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, &DeadLetter{Record: *r.Clone(), Reason: reason, DeadLetteredAt: at})
	delete(s.queue, r.ID)
	return nil
}

func (s *MemoryStore) DeadLetters(_ context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DeadLetter, 0, len(s.letters))
	for i := len(s.letters) - 1; i >= 0; i-- {
		d := *s.letters[i]
		out = append(out, &d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Pending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}
