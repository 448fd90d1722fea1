package reset

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound    = errors.New("reset token not found")
	ErrTokenAlreadyUsed = errors.New("reset token already used")
	ErrTokenExpired     = errors.New("reset token expired")
	ErrUserNotFound     = errors.New("user not found for email")
	ErrInvalidInput     = errors.New("invalid input")
)

// Token is a single-use password-reset credential. Lifecycle:
// issued -> used (terminal) or issued -> expired (terminal).
type Token struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Repo persists reset tokens. MarkUsed is the single-use serialization
// point: it must flip used from false to true atomically (compare-and-set
// or equivalent) so two concurrent consumers can never both win.
type Repo interface {
	Create(ctx context.Context, token *Token) error
	Get(ctx context.Context, tokenStr string) (*Token, error)
	// MarkUsed atomically transitions issued -> used. Returns
	// ErrTokenAlreadyUsed when the transition already happened and
	// ErrTokenNotFound for unknown tokens.
	MarkUsed(ctx context.Context, tokenStr string) error
	// Release reverts a MarkUsed that could not be followed by the
	// password write, so no half-applied consumption survives.
	Release(ctx context.Context, tokenStr string) error
}
