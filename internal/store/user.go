package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/postgres"
)

const userColumns = `id, username, is_deleted, created_at, modified_at`

func scanUser(row pgx.Row) (cache.User, error) {
	var u cache.User
	if err := row.Scan(&u.UserID, &u.Username, &u.IsDeleted, &u.CreatedAt, &u.ModifiedAt); err != nil {
		return cache.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// UserRepository persists users to Postgres.
type UserRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewUserRepository(db *pgxpool.Pool, logger zerolog.Logger) *UserRepository {
	return &UserRepository{db: db, log: logger}
}

func (r *UserRepository) Insert(ctx context.Context, u cache.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5)`,
		u.UserID, u.Username, u.IsDeleted, u.CreatedAt, u.ModifiedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u cache.User) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET username=$2, is_deleted=$3, modified_at=$4 WHERE id=$1`,
		u.UserID, u.Username, u.IsDeleted, u.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id ident.ID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_deleted=true WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id ident.ID) (cache.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.User{}, ErrNotFound
		}
		return cache.User{}, err
	}
	return u, nil
}

func (r *UserRepository) ListAll(ctx context.Context) ([]cache.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	defer rows.Close()

	var out []cache.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
