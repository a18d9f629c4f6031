package account

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Create(ctx context.Context, a Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.Username, a.PasswordHash, string(a.Role), a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT username, password_hash, role, created_at
		FROM accounts
		WHERE username = $1
	`, username)

	var a Account
	var role string
	if err := row.Scan(&a.Username, &a.PasswordHash, &role, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.Role = scheduling.Role(role)
	return &a, nil
}
