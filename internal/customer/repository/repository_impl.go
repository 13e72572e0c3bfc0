package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/medistore/payments/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const customerColumns = `id, user_id, name, email, COALESCE(phone, '') AS phone, created_at, updated_at`

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, customer *domain.Customer) (*domain.Customer, error) {
	var stored domain.Customer
	err := db.WithContext(ctx).Raw(
		`INSERT INTO customers (id, user_id, name, email, phone, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   name = excluded.name,
		   email = excluded.email,
		   phone = excluded.phone,
		   updated_at = excluded.updated_at
		 RETURNING `+customerColumns,
		customer.ID,
		customer.UserID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Scan(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE user_id = ?`,
		userID,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}
