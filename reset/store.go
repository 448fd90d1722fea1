package reset

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/notify"
	"github.com/jrsteele09/go-user-management/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTokenTTL       = 24 * time.Hour
	defaultStoreTimeout   = 3 * time.Second
	resetPasswordPath     = "/reset-password"
	notificationSubject   = "Password Reset Request"
	notificationBodyStart = "Click the link to reset your password: "
)

// Store issues and consumes single-use password-reset tokens. Multiple
// outstanding tokens per user may coexist; issuing a new token does not
// invalidate earlier ones.
type Store struct {
	userRepo    users.UserRepo
	repo        Repo
	notifier    notify.Notifier
	recorder    audit.Recorder
	frontendURL string
	tokenTTL    time.Duration
	nowTime     func() time.Time
	timeout     time.Duration
}

type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(st *Store) {
		st.nowTime = nowFunc
	}
}

// WithTokenTTL overrides the fixed validity window of issued tokens.
func WithTokenTTL(ttl time.Duration) StoreOption {
	return func(st *Store) {
		st.tokenTTL = ttl
	}
}

// WithRecorder sets the audit recorder for password-reset events.
func WithRecorder(recorder audit.Recorder) StoreOption {
	return func(st *Store) {
		st.recorder = recorder
	}
}

func NewStore(userRepo users.UserRepo, repo Repo, notifier notify.Notifier, frontendURL string, options ...StoreOption) (*Store, error) {
	if userRepo == nil {
		return nil, errors.New("[NewStore] user repo is required")
	}
	if repo == nil {
		return nil, errors.New("[NewStore] reset token repo is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewStore] notifier is required")
	}

	st := &Store{
		userRepo:    userRepo,
		repo:        repo,
		notifier:    notifier,
		recorder:    audit.NopRecorder{},
		frontendURL: frontendURL,
		tokenTTL:    defaultTokenTTL,
		nowTime:     time.Now,
		timeout:     defaultStoreTimeout,
	}
	for _, opt := range options {
		opt(st)
	}
	return st, nil
}

// Issue creates a fresh reset token for the account behind email, persists
// it, and dispatches the reset link through the notifier. Fails
// ErrUserNotFound when no Principal matches.
func (st *Store) Issue(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", errors.Wrap(ErrInvalidInput, "[Issue] email is required")
	}

	user, err := st.getUserByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, users.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	tokenStr := uuid.New().String()
	resetToken := &Token{
		Token:     tokenStr,
		UserID:    user.ID,
		ExpiresAt: st.nowTime().Add(st.tokenTTL),
		CreatedAt: st.nowTime(),
	}
	if err := st.createToken(ctx, resetToken); err != nil {
		return "", err
	}

	resetURL := st.frontendURL + resetPasswordPath + "?token=" + tokenStr
	notifyCtx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	if err := st.notifier.Notify(notifyCtx, user.Email, notificationSubject, notificationBodyStart+resetURL); err != nil {
		// The token is valid either way; delivery is an external concern.
		log.Error().Err(err).Str("email", user.Email).Msg("reset notification failed")
	}

	return tokenStr, nil
}

// Consume transitions a token issued -> used exactly once and stores the
// re-hashed password on the owning Principal. Used and expired tokens are
// permanently rejected, so a network-level retry of an already-consumed
// token deterministically fails.
func (st *Store) Consume(ctx context.Context, tokenStr, newPassword string) error {
	if strings.TrimSpace(tokenStr) == "" || strings.TrimSpace(newPassword) == "" {
		return errors.Wrap(ErrInvalidInput, "[Consume] token and new password are required")
	}
	if err := users.ValidatePasswordStrength(newPassword); err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}

	resetToken, err := st.getToken(ctx, tokenStr)
	if err != nil {
		return err
	}
	if resetToken.Used {
		return ErrTokenAlreadyUsed
	}
	if st.nowTime().After(resetToken.ExpiresAt) {
		return ErrTokenExpired
	}

	user, err := st.getUserByID(ctx, resetToken.UserID)
	if err != nil {
		return err
	}
	passwordHash, err := users.HashPassword(newPassword)
	if err != nil {
		return errors.Wrap(err, "[Consume] HashPassword")
	}

	// MarkUsed is the serialization point: of two concurrent consumers
	// exactly one passes. The loser sees ErrTokenAlreadyUsed.
	if err := st.markUsed(ctx, tokenStr); err != nil {
		return err
	}

	user.PasswordHash = passwordHash
	if err := st.updateUser(ctx, user); err != nil {
		// Revert the consumption so the pair is applied atomically or
		// not at all.
		if releaseErr := st.repo.Release(ctx, tokenStr); releaseErr != nil {
			log.Error().Err(releaseErr).Str("token", tokenStr).Msg("reset token release failed")
		}
		return err
	}

	st.recorder.Record(audit.Event{
		Timestamp: st.nowTime(),
		Username:  user.Username,
		Action:    audit.ActionPasswordReset,
		Success:   true,
	})
	return nil
}

func (st *Store) getUserByEmail(ctx context.Context, email string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	return st.userRepo.GetByEmail(ctx, email)
}

func (st *Store) getUserByID(ctx context.Context, id string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	user, err := st.userRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, users.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "[Consume] user lookup")
	}
	return user, nil
}

func (st *Store) updateUser(ctx context.Context, user *users.User) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	if err := st.userRepo.Update(ctx, user); err != nil {
		return errors.Wrap(err, "[Consume] password update")
	}
	return nil
}

func (st *Store) createToken(ctx context.Context, token *Token) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	if err := st.repo.Create(ctx, token); err != nil {
		return errors.Wrap(err, "[Issue] token create")
	}
	return nil
}

func (st *Store) getToken(ctx context.Context, tokenStr string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	return st.repo.Get(ctx, tokenStr)
}

func (st *Store) markUsed(ctx context.Context, tokenStr string) error {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	return st.repo.MarkUsed(ctx, tokenStr)
}
