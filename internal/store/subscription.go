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

const subscriptionColumns = `id, expires_at, referred_by, referral_code, is_deleted, modified_at`

func scanSubscription(row pgx.Row) (cache.Subscription, error) {
	var s cache.Subscription
	var referralCode *string
	if err := row.Scan(&s.ID, &s.ExpiresAt, &s.ReferredBy, &referralCode, &s.IsDeleted, &s.ModifiedAt); err != nil {
		return cache.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	if referralCode != nil {
		s.ReferralCode = *referralCode
	}
	return s, nil
}

// SubscriptionRepository persists subscriptions to Postgres.
type SubscriptionRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewSubscriptionRepository(db *pgxpool.Pool, logger zerolog.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, log: logger}
}

func (r *SubscriptionRepository) Insert(ctx context.Context, s cache.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.ExpiresAt, s.ReferredBy, nullableString(s.ReferralCode), s.IsDeleted, s.ModifiedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, s cache.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET expires_at=$2, referred_by=$3, referral_code=$4, is_deleted=$5, modified_at=$6
		 WHERE id=$1`,
		s.ID, s.ExpiresAt, s.ReferredBy, nullableString(s.ReferralCode), s.IsDeleted, s.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id ident.ID) (cache.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache.Subscription{}, ErrNotFound
		}
		return cache.Subscription{}, err
	}
	return s, nil
}

func (r *SubscriptionRepository) ListAll(ctx context.Context) ([]cache.Subscription, error) {
	rows, err := r.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("list all subscriptions: %w", err)
	}
	defer rows.Close()

	var out []cache.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
