package repository

import (
	"context"
	"errors"
	"fmt"

	"forge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateBillingCustomerID(ctx context.Context, userID, customerID string) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	const q = `SELECT user_id, name, email, billing_customer_id, created_at, updated_at FROM user_profiles WHERE user_id = $1`
	var u model.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.UserID, &u.Name, &u.Email, &u.BillingCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return &u, nil
}

func (r *userRepo) GetUserByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	const q = `SELECT user_id, name, email, billing_customer_id, created_at, updated_at FROM user_profiles WHERE billing_customer_id = $1`
	var u model.User
	err := r.pool.QueryRow(ctx, q, customerID).Scan(&u.UserID, &u.Name, &u.Email, &u.BillingCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user by billing customer %s: %w", customerID, err)
	}
	return &u, nil
}

func (r *userRepo) UpdateBillingCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE user_profiles SET billing_customer_id = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, customerID); err != nil {
		return fmt.Errorf("store billing customer id for user %s: %w", userID, err)
	}
	return nil
}
