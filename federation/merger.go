// Package federation reconciles external identity-provider logins with the
// local Principal directory.
package federation

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/jrsteele09/go-user-management/users"
	"github.com/pkg/errors"
)

var ErrEmailMissing = errors.New("provider identity has no email")

// Provider names with specific username derivations.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

const defaultDirectoryTimeout = 3 * time.Second

// shadowAccountExpiryYears pushes provisioned accounts far enough out that
// expiry never interferes with federated logins.
const shadowAccountExpiryYears = 100

// Identity is the stable subset of provider callback attributes the merge
// needs.
type Identity struct {
	Provider string
	Email    string
	Login    string // provider login handle, e.g. the GitHub username
	Name     string
}

// MergeResult carries the resolved Principal and its session token.
type MergeResult struct {
	User  *users.User
	Token string
}

// Merger resolves an external identity to exactly one local Principal,
// provisioning a shadow account on first login. Merging is idempotent by
// email: repeated logins with the same provider identity never create
// duplicates.
type Merger struct {
	userRepo users.UserRepo
	roleRepo users.RoleRepo
	codec    *token.Codec
	recorder audit.Recorder
	nowTime  func() time.Time
	timeout  time.Duration
}

type MergerOption func(*Merger)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) MergerOption {
	return func(m *Merger) {
		m.nowTime = nowFunc
	}
}

// WithRecorder sets the audit recorder for federated login events.
func WithRecorder(recorder audit.Recorder) MergerOption {
	return func(m *Merger) {
		m.recorder = recorder
	}
}

func NewMerger(userRepo users.UserRepo, roleRepo users.RoleRepo, codec *token.Codec, options ...MergerOption) (*Merger, error) {
	if userRepo == nil {
		return nil, errors.New("[NewMerger] user repo is required")
	}
	if roleRepo == nil {
		return nil, errors.New("[NewMerger] role repo is required")
	}
	if codec == nil {
		return nil, errors.New("[NewMerger] token codec is required")
	}

	m := &Merger{
		userRepo: userRepo,
		roleRepo: roleRepo,
		codec:    codec,
		recorder: audit.NopRecorder{},
		nowTime:  time.Now,
		timeout:  defaultDirectoryTimeout,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Merge resolves the identity against the local directory. An existing
// Principal keeps its stored role; the provider never overwrites it. A
// missing default role is a fatal configuration error
// (users.ErrRoleNotFound), not a per-request failure.
func (m *Merger) Merge(ctx context.Context, identity Identity) (*MergeResult, error) {
	if strings.TrimSpace(identity.Email) == "" {
		return nil, ErrEmailMissing
	}

	user, err := m.getByEmail(ctx, identity.Email)
	switch {
	case err == nil:
	case stderrors.Is(err, users.ErrNotFound):
		user, err = m.provisionShadowAccount(ctx, identity)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrap(err, "[Merge] directory lookup")
	}

	satisfied := !user.TwoFactorEnabled
	rawToken, err := m.codec.Issue(user, satisfied)
	if err != nil {
		return nil, errors.Wrap(err, "[Merge] codec.Issue")
	}

	m.recorder.Record(audit.Event{
		Timestamp: m.nowTime(),
		Username:  user.Username,
		Action:    audit.ActionFederatedLogin,
		Success:   true,
		Reason:    identity.Provider,
	})
	return &MergeResult{User: user, Token: rawToken}, nil
}

func (m *Merger) provisionShadowAccount(ctx context.Context, identity Identity) (*users.User, error) {
	role, err := m.roleRepo.Get(users.RoleUser)
	if err != nil {
		return nil, err
	}

	// Shadow accounts cannot be signed into with a password; the stored
	// hash is an unguessable throwaway.
	placeholderHash, err := users.HashPassword(uuid.New().String())
	if err != nil {
		return nil, errors.Wrap(err, "[Merge] placeholder HashPassword")
	}

	now := m.nowTime()
	user := &users.User{
		Username:              DeriveUsername(identity),
		Email:                 identity.Email,
		PasswordHash:          placeholderHash,
		Enabled:               true,
		Role:                  role,
		AccountExpiryDate:     now.AddDate(shadowAccountExpiryYears, 0, 0),
		CredentialsExpiryDate: now.AddDate(shadowAccountExpiryYears, 0, 0),
		SignUpMethod:          identity.Provider,
	}

	err = m.createUser(ctx, user)
	if stderrors.Is(err, users.ErrDuplicateUsername) {
		// A different Principal already owns the derived username.
		// Disambiguate and try once more; an email collision on the
		// retry is handled below like any other provisioning race.
		user.Username = user.Username + "-" + uuid.New().String()[:8]
		err = m.createUser(ctx, user)
	}
	switch {
	case err == nil:
		return user, nil
	case stderrors.Is(err, users.ErrDuplicateEmail):
		// Lost a provisioning race with a concurrent login for the same
		// identity; the winner's record is the one to use.
		return m.getByEmail(ctx, identity.Email)
	default:
		return nil, errors.Wrap(err, "[Merge] provision")
	}
}

// DeriveUsername maps provider attributes to a local username: the GitHub
// login handle, or the local part of the email for Google and anything
// else.
func DeriveUsername(identity Identity) string {
	if identity.Provider == ProviderGitHub && identity.Login != "" {
		return identity.Login
	}
	if at := strings.Index(identity.Email, "@"); at > 0 {
		return identity.Email[:at]
	}
	return identity.Email
}

func (m *Merger) getByEmail(ctx context.Context, email string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.userRepo.GetByEmail(ctx, email)
}

func (m *Merger) createUser(ctx context.Context, user *users.User) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.userRepo.Create(ctx, user)
}
