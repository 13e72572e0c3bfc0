package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the customer or, when the user id already exists,
	// overwrites name, email and phone. It returns the stored row.
	Upsert(ctx context.Context, db *gorm.DB, customer *Customer) (*Customer, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Customer, error)
}
