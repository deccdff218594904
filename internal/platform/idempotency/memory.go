package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps claims in process memory. Used in tests and when running
// the API locally without Firestore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Claim takes ownership of the key, treating expired records as absent.
func (s *MemoryStore) Claim(_ context.Context, key, requestSum string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	rec, ok := s.records[id]
	if !ok || expired(rec, now) {
		rec = Record{
			Key:        key,
			RequestSum: requestSum,
			State:      StateInFlight,
			FirstSeen:  now,
			UpdatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		}
		s.records[id] = rec
		return Claim{Outcome: ClaimAccepted, Record: rec}, nil
	}

	if rec.RequestSum != requestSum {
		return Claim{}, ErrKeyReused
	}
	if rec.State == StateStored {
		return Claim{Outcome: ClaimReplay, Record: rec}, nil
	}
	return Claim{Outcome: ClaimInFlight, Record: rec}, nil
}

// Complete stores the handler's reply against the key.
func (s *MemoryStore) Complete(_ context.Context, key, requestSum string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	rec, ok := s.records[id]
	if ok && rec.RequestSum != requestSum {
		return ErrKeyReused
	}
	if !ok {
		rec = Record{Key: key, RequestSum: requestSum, FirstSeen: now}
	}
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = now
	}

	rec.State = StateStored
	rec.ReplyStatus = reply.Status
	rec.ReplyHeader = storableHeader(reply.Header)
	rec.ReplyBody = nil
	if len(reply.Body) > 0 {
		rec.ReplyBody = append([]byte(nil), reply.Body...)
	}
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.records[id] = rec
	return nil
}

// Forget drops the claim so a retry can start fresh.
func (s *MemoryStore) Forget(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID(key))
	return nil
}

// Sweep removes up to limit expired records.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	removed := 0
	for id, rec := range s.records {
		if !expired(rec, now) {
			continue
		}
		delete(s.records, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}
