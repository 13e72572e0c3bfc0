package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is the billing identity for one external storefront user.
type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    string       `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Name      string       `gorm:"not null" json:"name"`
	Email     string       `gorm:"not null" json:"email"`
	Phone     string       `gorm:"column:phone" json:"phone,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Summary is the projection returned to the checkout client.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c Customer) Summary() Summary {
	return Summary{ID: c.ID.String(), Name: c.Name, Email: c.Email}
}
