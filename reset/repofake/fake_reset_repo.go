package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-user-management/reset"
)

var _ reset.Repo = (*FakeResetRepo)(nil)

// FakeResetRepo is the in-memory reset-token table. MarkUsed is a
// compare-and-set under the repo lock, matching the single-use contract.
type FakeResetRepo struct {
	tokens map[string]*reset.Token
	lock   sync.Mutex
}

func NewFakeResetRepo() *FakeResetRepo {
	return &FakeResetRepo{tokens: make(map[string]*reset.Token)}
}

func (r *FakeResetRepo) Create(_ context.Context, token *reset.Token) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *token
	r.tokens[token.Token] = &c
	return nil
}

func (r *FakeResetRepo) Get(_ context.Context, tokenStr string) (*reset.Token, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	token, ok := r.tokens[tokenStr]
	if !ok {
		return nil, reset.ErrTokenNotFound
	}
	c := *token
	return &c, nil
}

func (r *FakeResetRepo) MarkUsed(_ context.Context, tokenStr string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	token, ok := r.tokens[tokenStr]
	if !ok {
		return reset.ErrTokenNotFound
	}
	if token.Used {
		return reset.ErrTokenAlreadyUsed
	}
	token.Used = true
	return nil
}

func (r *FakeResetRepo) Release(_ context.Context, tokenStr string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	token, ok := r.tokens[tokenStr]
	if !ok {
		return reset.ErrTokenNotFound
	}
	token.Used = false
	return nil
}
