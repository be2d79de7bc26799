package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bizadmin/apiserver/internal/store"
	"github.com/bizadmin/apiserver/types"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// UserRepository defines persistence operations for credential records.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
	Delete(ctx context.Context, id int) error
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users      []types.User
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// UserService encapsulates user administration use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetByID looks up a single record.
func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// List returns users newest first. page starts at 1.
func (s *UserService) List(ctx context.Context, page, limit int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	users, total, err := s.repo.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", err)
	}

	return UserPage{
		Users:      users,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// Delete removes a record on behalf of an administrator. Tokens already
// issued to the deleted user stop working on their next request.
func (s *UserService) Delete(ctx context.Context, actor types.User, id int) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if actor.ID == id {
		return &ValidationError{Problems: []string{"Administrators cannot delete their own account"}}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
