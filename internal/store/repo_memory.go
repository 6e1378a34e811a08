package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository used in tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]CallRecord)}
}

func (r *MemoryRepo) Insert(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CallID]; ok {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) List(_ context.Context, from, to time.Time, queueID string) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.records {
		if rec.StartedAt.Before(from) || !rec.StartedAt.Before(to) {
			continue
		}
		if queueID != "" && rec.QueueID != queueID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *MemoryRepo) Get(callID string) (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	return rec, ok
}
