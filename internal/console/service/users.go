package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/reconcile"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
}

type NewUser struct {
	Username   string
	Email      string
	Password   string
	Role       domain.Role
	CustomerID string
}

// UserService заводит учётные записи консоли (CLI mspctl).
type UserService struct {
	repo   UserStore
	cost   int
	logger *zap.Logger
}

func NewUserService(repo UserStore, cost int, logger *zap.Logger) *UserService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &UserService{repo: repo, cost: cost, logger: logger.Named("users")}
}

func (s *UserService) Create(ctx context.Context, in NewUser) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.Username == "":
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	case in.Email == "":
		return nil, fmt.Errorf("%w: email is required", ErrInvalidUser)
	case len(in.Password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidUser)
	}

	u := &domain.User{
		ID:       uuid.NewString(),
		Email:    in.Email,
		Username: in.Username,
		Role:     in.Role,
	}
	switch in.Role {
	case domain.RoleAdmin:
	case domain.RoleCustomer:
		// Храним канонический ключ, чтобы область видимости не зависела от написания
		key, ok := reconcile.CanonicalKey(in.CustomerID)
		if !ok {
			return nil, fmt.Errorf("%w: customer role needs a customer id", ErrInvalidUser)
		}
		u.CustomerID = &key
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}
