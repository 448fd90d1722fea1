package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-user-management/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

// FakeUserRepo is an in-memory user directory used by tests and local
// development. Uniqueness of username and email is enforced under a single
// lock so concurrent signups behave like a serializable store.
type FakeUserRepo struct {
	byID       map[string]*users.User
	usernameID map[string]string
	emailID    map[string]string
	lock       sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		byID:       make(map[string]*users.User),
		usernameID: make(map[string]string),
		emailID:    make(map[string]string),
	}
}

func (ur *FakeUserRepo) Create(_ context.Context, user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.usernameID[user.Username]; ok {
		return users.ErrDuplicateUsername
	}
	if _, ok := ur.emailID[user.Email]; ok {
		return users.ErrDuplicateEmail
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	ur.byID[user.ID] = cloneUser(user)
	ur.usernameID[user.Username] = user.ID
	ur.emailID[user.Email] = user.ID
	return nil
}

func (ur *FakeUserRepo) Update(_ context.Context, user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	existing, ok := ur.byID[user.ID]
	if !ok {
		return users.ErrNotFound
	}

	user.UpdatedAt = time.Now()
	delete(ur.usernameID, existing.Username)
	delete(ur.emailID, existing.Email)
	ur.byID[user.ID] = cloneUser(user)
	ur.usernameID[user.Username] = user.ID
	ur.emailID[user.Email] = user.ID
	return nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	user, ok := ur.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return cloneUser(user), nil
}

func (ur *FakeUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.usernameID[username]
	if !ok {
		return nil, users.ErrNotFound
	}
	return cloneUser(ur.byID[id]), nil
}

func (ur *FakeUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailID[email]
	if !ok {
		return nil, users.ErrNotFound
	}
	return cloneUser(ur.byID[id]), nil
}

// cloneUser keeps callers from mutating the stored record outside Update.
func cloneUser(u *users.User) *users.User {
	c := *u
	return &c
}
