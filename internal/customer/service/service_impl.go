package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/medistore/payments/internal/clock"
	"github.com/medistore/payments/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertCustomerRequest) (domain.Customer, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Customer{}, domain.ErrInvalidUserID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Customer{}, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	stored, err := s.repo.Upsert(ctx, s.db, &domain.Customer{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Name:      name,
		Email:     email,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.log.Error("customer upsert failed", zap.String("user_id", userID), zap.Error(err))
		return domain.Customer{}, err
	}

	return *stored, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	if id == 0 {
		return domain.Customer{}, domain.ErrNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (domain.Customer, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Customer{}, domain.ErrInvalidUserID
	}
	item, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}
