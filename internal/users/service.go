package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/EternisAI/silo-stations/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserInfo struct {
	ID          int64
	Username    string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// LookupUser resolves a user id for the allocation engine.
func (s *Service) LookupUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := s.store.View(ctx, func(q store.Queries) error {
		var err error
		u, err = q.GetUser(ctx, id)
		return err
	})
	return u, err
}

func (s *Service) Create(ctx context.Context, username, password, displayName string, role domain.Role) (UserInfo, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return UserInfo{}, fmt.Errorf("hash password: %w", err)
	}

	var u domain.User
	err = s.store.RunInTx(ctx, func(q store.Queries) error {
		var err error
		u, err = q.CreateUser(ctx, domain.User{
			Username:     username,
			DisplayName:  displayName,
			Role:         role,
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return UserInfo{}, err
	}
	return toInfo(u), nil
}

// Authenticate returns the user when password matches, and
// ErrInvalidCredentials for an unknown user or a wrong password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	var u domain.User
	err := s.store.View(ctx, func(q store.Queries) error {
		var err error
		u, err = q.GetUserByUsername(ctx, username)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	if !CheckPassword(password, u.PasswordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]UserInfo, int64, error) {
	var list []domain.User
	var total int64
	err := s.store.View(ctx, func(q store.Queries) error {
		var err error
		list, total, err = q.ListUsers(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	result := make([]UserInfo, len(list))
	for i, u := range list {
		result[i] = toInfo(u)
	}
	return result, total, nil
}

func toInfo(u domain.User) UserInfo {
	return UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
	}
}
