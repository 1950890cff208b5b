// Package storage persists SYI results. Postgres is the system of record
// for the audit/replay history; Redis caches the latest result for the
// freshness endpoint; the in-memory store backs tests.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/yourorg/stableyield-index/internal/model"
)

// ErrNoResult is returned by Latest when no cycle has ever completed.
var ErrNoResult = errors.New("no SYI result stored yet")

// Record is one persisted calculation snapshot. Signature and PublicKey are
// empty when result signing is disabled.
type Record struct {
	Result    model.SYIResult `json:"result"`
	Hash      string          `json:"hash,omitempty"`
	Signature string          `json:"signature,omitempty"`
	PublicKey string          `json:"public_key,omitempty"`
}

// Store is the persistence collaborator of the scheduler. Storing the same
// as_of_date twice must not duplicate records; the later write wins.
type Store interface {
	// Initialize creates collections/tables, idempotently
	Initialize(ctx context.Context) error

	// Save persists one record, keyed by its as_of_date
	Save(ctx context.Context, record Record) error

	// Latest returns the most recently calculated record or ErrNoResult
	Latest(ctx context.Context) (Record, error)
}

// MemoryStore is a Store kept in process memory. Used in tests and as a
// fallback when no Postgres DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byDate  map[string]Record
	latest  Record
	hasData bool

	// FailSaves makes the next N Save calls fail, for retry-path tests
	FailSaves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byDate: make(map[string]Record)}
}

// Initialize implements Store.
func (m *MemoryStore) Initialize(ctx context.Context) error { return nil }

// Save implements Store with last-write-wins semantics per as_of_date.
func (m *MemoryStore) Save(ctx context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSaves > 0 {
		m.FailSaves--
		return errors.New("injected store failure")
	}

	m.byDate[record.Result.AsOfDate] = record
	if !m.hasData || !record.Result.CalculatedAt.Before(m.latest.Result.CalculatedAt) {
		m.latest = record
		m.hasData = true
	}
	return nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(ctx context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasData {
		return Record{}, ErrNoResult
	}
	return m.latest, nil
}

// Get returns the record stored for a date, if any.
func (m *MemoryStore) Get(date string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byDate[date]
	return rec, ok
}

// Count returns the number of distinct dates stored.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byDate)
}
