package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/users"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u users.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.checkUnique(u); err != nil {
		return err
	}
	r.s.users[u.ID] = u
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &u, nil
}

func (r userRepo) GetByLogin(_ context.Context, login string) (*users.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			return &u, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (r userRepo) Update(_ context.Context, u users.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; !ok {
		return users.ErrUserNotFound
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	r.s.users[u.ID] = u
	return nil
}

func (r userRepo) List(_ context.Context, offset, limit int) ([]users.User, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := make([]users.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, offset, limit), len(all), nil
}

func (r userRepo) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.LastLoginAt = &at
	r.s.users[id] = u
	return nil
}

// checkUnique must be called with the write lock held.
func (r userRepo) checkUnique(u users.User) error {
	for _, other := range r.s.users {
		if other.ID == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return users.ErrEmailTaken
		}
		if strings.EqualFold(other.Username, u.Username) {
			return users.ErrUsernameTaken
		}
	}
	return nil
}
