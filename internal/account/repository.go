package account

import (
	"context"
	"errors"
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password does not meet the policy")
)

// Repository contains all DB interactions needed by the account service.
type Repository interface {
	Create(ctx context.Context, a Account) error
	GetByUsername(ctx context.Context, username string) (*Account, error)
}
