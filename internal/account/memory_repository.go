package account

import (
	"context"
	"sync"
)

// MemoryRepository backs the account service when no database is configured,
// and doubles as the test repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]Account)}
}

func (r *MemoryRepository) Create(ctx context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[a.Username]; exists {
		return ErrUsernameTaken
	}
	r.accounts[a.Username] = a
	return nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}
