package token

import (
	"sync"
	"time"
)

// RevocationRegistry tracks revoked-but-unexpired tokens by their jti. It is
// only ever consulted for tokens whose signature has already verified.
// Entries past their natural expiry are inert: an expired token fails
// validation on its own, so prompt purging is not a correctness requirement.
// Multi-instance deployments swap in a shared backing store.
type RevocationRegistry interface {
	Revoke(jti string, naturalExpiry time.Time) error
	IsRevoked(jti string) bool
	Purge() // Remove expired entries
}

// InMemoryRevocationRegistry is the single-process implementation.
type InMemoryRevocationRegistry struct {
	revoked map[string]time.Time
	nowFunc func() time.Time
	mu      sync.RWMutex
}

type RegistryOption func(*InMemoryRevocationRegistry)

func WithRegistryNowFunc(now func() time.Time) RegistryOption {
	return func(r *InMemoryRevocationRegistry) {
		r.nowFunc = now
	}
}

func NewInMemoryRevocationRegistry(options ...RegistryOption) *InMemoryRevocationRegistry {
	r := &InMemoryRevocationRegistry{
		revoked: make(map[string]time.Time),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *InMemoryRevocationRegistry) Revoke(jti string, naturalExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = naturalExpiry
	return nil
}

func (r *InMemoryRevocationRegistry) IsRevoked(jti string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, exists := r.revoked[jti]
	if !exists {
		return false
	}
	// An entry past its own expiry must not block a token reissued after
	// that time.
	return !r.nowFunc().After(exp)
}

func (r *InMemoryRevocationRegistry) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	for jti, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, jti)
		}
	}
}
