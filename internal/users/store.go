// Package users keeps user accounts: in memory for fast lookups, mirrored to
// SQL for persistence.
//
// All accounts are loaded once at startup. Changes mark the account dirty and
// a background flusher writes dirty accounts back on a fixed cadence, so a
// burst of config updates costs one UPDATE per user per minute. Account
// creation is the exception and hits the store immediately.
package users

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Record is one persisted user account. Config is the user's detect
// configuration as a JSON document; this package does not interpret it.
type Record struct {
	User       string    `db:"User"`
	Password   string    `db:"Password"`
	Config     string    `db:"Config"`
	CreateUser time.Time `db:"CreateUser"`
	LastLogin  time.Time `db:"LastLogin"`
}

// Store is the persistence backend.
type Store interface {
	// LoadAll returns every stored account.
	LoadAll(ctx context.Context) ([]Record, error)

	// Create inserts a new account. Inserting an existing user is an error.
	Create(ctx context.Context, rec Record) error

	// Update overwrites the password, config and last login of an existing
	// account.
	Update(ctx context.Context, rec Record) error

	Close() error
}

// MemoryStore is a Store held entirely in memory. It backs tests and runs
// with no durability.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// LoadAll implements Store.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]Record, 0, len(s.recs))
	for _, rec := range s.recs {
		recs = append(recs, rec)
	}
	return recs, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.User]; ok {
		return fmt.Errorf("user %v already exists", rec.User)
	}
	s.recs[rec.User] = rec
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recs[rec.User]
	if !ok {
		return fmt.Errorf("user %v does not exist", rec.User)
	}
	stored.Password = rec.Password
	stored.Config = rec.Config
	stored.LastLogin = rec.LastLogin
	s.recs[rec.User] = stored
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
