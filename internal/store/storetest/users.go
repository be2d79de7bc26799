// Package storetest provides an in-memory user repository for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bizadmin/apiserver/internal/store"
	"github.com/bizadmin/apiserver/types"
)

// Users is an in-memory stand-in for store.UserRepository. It enforces the
// same unique-email rule as the database.
type Users struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]types.User

	// Err, when set, is returned by every method.
	Err error
	// ListErr, when set, is returned by List only.
	ListErr error
	// CreateErr, when set, is returned by Create only. Lookups still see
	// the current contents, so it stands in for a write that lost a race.
	CreateErr error
}

func NewUsers() *Users {
	return &Users{nextID: 1, byID: make(map[int]types.User)}
}

func (u *Users) GetByID(_ context.Context, id int) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	user, ok := u.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	for _, user := range u.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (u *Users) Create(_ context.Context, user types.User) (types.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return types.User{}, u.Err
	}
	if u.CreateErr != nil {
		return types.User{}, u.CreateErr
	}
	for _, existing := range u.byID {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	now := time.Now().UTC()
	user.ID = u.nextID
	user.CreatedAt = now.Add(time.Duration(u.nextID) * time.Millisecond)
	user.UpdatedAt = user.CreatedAt
	u.nextID++
	u.byID[user.ID] = user
	return user, nil
}

func (u *Users) UpdatePassword(_ context.Context, id int, passwordHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	existing, ok := u.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	existing.PasswordHash = passwordHash
	existing.UpdatedAt = time.Now().UTC()
	u.byID[id] = existing
	return nil
}

func (u *Users) Delete(_ context.Context, id int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	if _, ok := u.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(u.byID, id)
	return nil
}

func (u *Users) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, 0, u.Err
	}
	if u.ListErr != nil {
		return nil, 0, u.ListErr
	}
	all := make([]types.User, 0, len(u.byID))
	for _, user := range u.byID {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []types.User{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

// Count returns the number of stored records.
func (u *Users) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.byID)
}
