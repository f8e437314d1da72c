// Package mock provides an instrumented store.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
	"github.com/embedpop/embedpop/pkg/store/memory"
)

var _ store.Store = (*Store)(nil)

// Store keeps documents in a memory store and counts the calls it receives.
// Capabilities and failures are configurable.
type Store struct {
	*memory.Store

	Caps store.Capabilities

	// PingErr is returned by Ping. InsertErr is returned by Insert after
	// FailAfter successful inserts.
	PingErr   error
	InsertErr error
	FailAfter int

	mu    sync.Mutex
	calls map[string]int
}

// Create returns a store without transactions, so that Transaction runs its
// callback directly.
func Create() *Store {
	return &Store{
		Store: memory.New(),
		calls: make(map[string]int),
	}
}

// WithTransactions makes Transaction atomic, delegating to the memory store.
func (s *Store) WithTransactions() *Store {
	s.Caps.Transactions = true
	return s
}

func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Store) record(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.calls[method]
}

func (s *Store) Name() string {
	return "mock"
}

func (s *Store) Capabilities() store.Capabilities {
	return s.Caps
}

func (s *Store) Ping(ctx context.Context) error {
	s.record("Ping")
	return s.PingErr
}

func (s *Store) Close(ctx context.Context) error {
	s.record("Close")
	return nil
}

func (s *Store) Insert(ctx context.Context, meta *models.Metadata, doc any) error {
	n := s.record("Insert")
	if s.InsertErr != nil && n > s.FailAfter {
		return s.InsertErr
	}
	return s.Store.Insert(ctx, meta, doc)
}

func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.record("Transaction")
	if !s.Caps.Transactions {
		return fn(ctx)
	}
	return s.Store.Transaction(ctx, fn)
}
