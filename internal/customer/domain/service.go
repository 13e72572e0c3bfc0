package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertCustomerRequest struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

type Service interface {
	Upsert(ctx context.Context, req UpsertCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, id snowflake.ID) (Customer, error)
	GetByUserID(ctx context.Context, userID string) (Customer, error)
}

var (
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrNotFound      = errors.New("customer_not_found")
)
