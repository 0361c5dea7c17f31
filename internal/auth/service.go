package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/users"
)

var (
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = users.ErrInvalidCredentials
)

type RegisterResult struct {
	ID       int64
	Username string
	Role     string
}

type Service struct {
	users  *users.Service
	config JWTConfig
}

func NewService(userService *users.Service, config JWTConfig) *Service {
	return &Service{
		users:  userService,
		config: config,
	}
}

func (s *Service) Register(ctx context.Context, username, password, displayName string) (RegisterResult, error) {
	info, err := s.users.Create(ctx, username, password, displayName, domain.RoleUser)
	if err != nil {
		if domain.IsConflict(err, domain.ReasonDuplicateUsername) {
			return RegisterResult{}, ErrUsernameExists
		}
		return RegisterResult{}, fmt.Errorf("create user: %w", err)
	}

	return RegisterResult{
		ID:       info.ID,
		Username: info.Username,
		Role:     info.Role,
	}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}

	token, err := GenerateToken(s.config, user.ID, user.Username, string(user.Role))
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}
