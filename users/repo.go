package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already in use")
	ErrRoleNotFound      = errors.New("role not found")
)

// UserRepo is the Principal directory. Implementations must be safe for
// concurrent use; Create must enforce username/email uniqueness and report
// violations with ErrDuplicateUsername / ErrDuplicateEmail.
type UserRepo interface {
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// RoleRepo resolves roles from the closed role set. A deployment that has
// not provisioned the default role is misconfigured, which Get surfaces as
// ErrRoleNotFound.
type RoleRepo interface {
	Get(role RoleType) (RoleType, error)
}

// StaticRoleRepo backs RoleRepo with a fixed set of provisioned roles.
type StaticRoleRepo struct {
	roles map[RoleType]struct{}
}

func NewStaticRoleRepo(roles ...RoleType) *StaticRoleRepo {
	m := make(map[RoleType]struct{}, len(roles))
	for _, r := range roles {
		m[r] = struct{}{}
	}
	return &StaticRoleRepo{roles: m}
}

func (r *StaticRoleRepo) Get(role RoleType) (RoleType, error) {
	if _, ok := r.roles[role]; !ok {
		return "", ErrRoleNotFound
	}
	return role, nil
}
