package auth

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/jrsteele09/go-user-management/totp"
	"github.com/jrsteele09/go-user-management/users"
	"github.com/pkg/errors"
)

const defaultDirectoryTimeout = 3 * time.Second

// Repos holds all repository dependencies for the Service
type Repos struct {
	Users users.UserRepo // Principal directory
	Roles users.RoleRepo // Provisioned role directory
}

// Service orchestrates username/password checks, 2FA gating, and session
// token issuance. It enforces no lockout threshold itself; the failed-login
// counter is maintained for an external policy.
type Service struct {
	repos            Repos
	codec            *token.Codec
	totp             *totp.Engine
	revocations      token.RevocationRegistry
	recorder         audit.Recorder
	nowTime          func() time.Time // nowTime function (injectable for testing)
	directoryTimeout time.Duration
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithRecorder sets the audit recorder for authentication events.
func WithRecorder(recorder audit.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithDirectoryTimeout bounds every directory lookup made by the service.
func WithDirectoryTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.directoryTimeout = timeout
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(repos Repos, codec *token.Codec, totpEngine *totp.Engine, revocations token.RevocationRegistry, options ...ServiceOption) (*Service, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewService] Users repo is required")
	}
	if repos.Roles == nil {
		return nil, errors.New("[NewService] Roles repo is required")
	}
	if codec == nil {
		return nil, errors.New("[NewService] token codec is required")
	}
	if totpEngine == nil {
		return nil, errors.New("[NewService] totp engine is required")
	}
	if revocations == nil {
		return nil, errors.New("[NewService] revocation registry is required")
	}

	s := &Service{
		repos:            repos,
		codec:            codec,
		totp:             totpEngine,
		revocations:      revocations,
		recorder:         audit.NopRecorder{},
		nowTime:          time.Now,
		directoryTimeout: defaultDirectoryTimeout,
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// SignInResult is returned on successful credential verification. When the
// user has 2FA enabled the token is issued with the satisfied flag off and
// RequiresTwoFactor is set; protected access stays gated until
// VerifyTwoFactorLogin upgrades the session.
type SignInResult struct {
	User              *users.User
	Token             string
	Roles             []string
	RequiresTwoFactor bool
}

// SignUpRequest carries the fields of a signup call. Role is free text from
// the caller and is resolved against the closed role set before anything is
// persisted.
type SignUpRequest struct {
	Username string
	Email    string
	Password string
	Role     string
}

// SignIn verifies the username/password pair and issues a session token.
// Account-state problems surface as distinct errors; a bad username or
// password is always ErrAuthenticationFailed.
func (s *Service) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return nil, errors.Wrap(ErrInvalidInput, "[SignIn] username and password are required")
	}

	user, err := s.getByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, users.ErrNotFound) {
			s.record(username, audit.ActionSignIn, false, "unknown username")
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	if !users.CheckPasswordHash(password, user.PasswordHash) {
		user.FailedLoginAttempts++
		if err := s.updateUser(ctx, user); err != nil {
			return nil, err
		}
		s.record(username, audit.ActionSignIn, false, "password mismatch")
		return nil, ErrAuthenticationFailed
	}

	if err := s.checkAccountState(user); err != nil {
		s.record(username, audit.ActionSignIn, false, err.Error())
		return nil, err
	}

	if user.FailedLoginAttempts != 0 {
		user.FailedLoginAttempts = 0
		if err := s.updateUser(ctx, user); err != nil {
			return nil, err
		}
	}

	satisfied := !user.TwoFactorEnabled
	rawToken, err := s.codec.Issue(user, satisfied)
	if err != nil {
		return nil, errors.Wrap(err, "[SignIn] codec.Issue")
	}

	s.record(username, audit.ActionSignIn, true, "")
	return &SignInResult{
		User:              user,
		Token:             rawToken,
		Roles:             []string{string(user.Role)},
		RequiresTwoFactor: user.TwoFactorEnabled,
	}, nil
}

// SignUp registers a new account. Username and email conflicts surface as
// the users package duplicate errors; an unknown role name is an input
// error, while a known role missing from the role directory is a fatal
// configuration problem (users.ErrRoleNotFound).
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*users.User, error) {
	if strings.TrimSpace(req.Username) == "" ||
		strings.TrimSpace(req.Email) == "" ||
		strings.TrimSpace(req.Password) == "" {
		return nil, errors.Wrap(ErrInvalidInput, "[SignUp] username, email and password are required")
	}
	if err := users.ValidatePasswordStrength(req.Password); err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}

	roleName, err := resolveRoleName(req.Role)
	if err != nil {
		return nil, err
	}
	role, err := s.repos.Roles.Get(roleName)
	if err != nil {
		return nil, err
	}

	passwordHash, err := users.HashPassword(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[SignUp] HashPassword")
	}

	now := s.nowTime()
	user := &users.User{
		Username:              req.Username,
		Email:                 req.Email,
		PasswordHash:          passwordHash,
		Enabled:               true,
		Role:                  role,
		AccountExpiryDate:     now.AddDate(1, 0, 0),
		CredentialsExpiryDate: now.AddDate(1, 0, 0),
		SignUpMethod:          users.SignUpMethodEmail,
	}

	if err := s.createUser(ctx, user); err != nil {
		s.record(req.Username, audit.ActionSignUp, false, err.Error())
		return nil, err
	}

	s.record(req.Username, audit.ActionSignUp, true, "")
	return user, nil
}

// VerifyTwoFactorLogin upgrades a 2FA-pending session: it takes the
// unsatisfied token issued by SignIn plus a fresh code and reissues a fully
// satisfied token without re-entering credentials.
func (s *Service) VerifyTwoFactorLogin(ctx context.Context, rawToken, code string) (*SignInResult, error) {
	claims, err := s.codec.Validate(rawToken)
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	// A signed-out token must not be exchangeable for a fresh session, no
	// matter how valid its signature or code.
	if s.revocations.IsRevoked(claims.ID) {
		return nil, errors.Wrap(ErrUnauthorized, "[VerifyTwoFactorLogin] token revoked")
	}

	user, err := s.getByUsername(ctx, claims.Subject)
	if err != nil {
		if stderrors.Is(err, users.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, errors.Wrap(ErrUnauthorized, "[VerifyTwoFactorLogin] two-factor not enabled")
	}

	// Always verify against the currently stored secret, never a cached one.
	valid, err := s.totp.Verify(user.TotpSecret, code)
	if err != nil {
		return nil, errors.Wrap(err, "[VerifyTwoFactorLogin] totp.Verify")
	}
	if !valid {
		s.record(user.Username, audit.ActionTwoFactorLogin, false, "code rejected")
		return nil, ErrInvalidTwoFactorCode
	}

	upgraded, err := s.codec.Issue(user, true)
	if err != nil {
		return nil, errors.Wrap(err, "[VerifyTwoFactorLogin] codec.Issue")
	}

	s.record(user.Username, audit.ActionTwoFactorLogin, true, "")
	return &SignInResult{
		User:  user,
		Token: upgraded,
		Roles: []string{string(user.Role)},
	}, nil
}

// EnableTwoFactor begins enrollment: a fresh secret is generated and stored,
// but 2FA stays off until ConfirmTwoFactor sees a valid code. Returns the
// provisioning URI for the authenticator app.
func (s *Service) EnableTwoFactor(ctx context.Context, userID string) (string, error) {
	user, err := s.getByID(ctx, userID)
	if err != nil {
		return "", err
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return "", errors.Wrap(err, "[EnableTwoFactor] GenerateSecret")
	}

	user.TotpSecret = secret
	user.TwoFactorEnabled = false
	if err := s.updateUser(ctx, user); err != nil {
		return "", err
	}

	uri, err := s.totp.ProvisioningURI(secret, user.Username)
	if err != nil {
		return "", errors.Wrap(err, "[EnableTwoFactor] ProvisioningURI")
	}
	return uri, nil
}

// ConfirmTwoFactor completes enrollment by checking the first code against
// the stored secret and flipping the enabled flag.
func (s *Service) ConfirmTwoFactor(ctx context.Context, userID, code string) error {
	user, err := s.getByID(ctx, userID)
	if err != nil {
		return err
	}

	valid, err := s.totp.Verify(user.TotpSecret, code)
	if err != nil {
		return errors.Wrap(err, "[ConfirmTwoFactor] totp.Verify")
	}
	if !valid {
		return ErrInvalidTwoFactorCode
	}

	user.TwoFactorEnabled = true
	return s.updateUser(ctx, user)
}

// DisableTwoFactor turns 2FA off and clears the stored secret.
func (s *Service) DisableTwoFactor(ctx context.Context, userID string) error {
	user, err := s.getByID(ctx, userID)
	if err != nil {
		return err
	}

	user.TwoFactorEnabled = false
	user.TotpSecret = ""
	return s.updateUser(ctx, user)
}

// UserByUsername resolves a caller identity, e.g. from validated token
// claims.
func (s *Service) UserByUsername(ctx context.Context, username string) (*users.User, error) {
	return s.getByUsername(ctx, username)
}

func (s *Service) checkAccountState(user *users.User) error {
	now := s.nowTime()
	switch {
	case user.AccountLocked:
		return ErrAccountLocked
	case !user.Enabled:
		return ErrAccountDisabled
	case user.AccountExpiredAt(now):
		return ErrAccountExpired
	case user.CredentialsExpiredAt(now):
		return ErrCredentialsExpired
	}
	return nil
}

func resolveRoleName(role string) (users.RoleType, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "":
		return users.RoleUser, nil
	case "user", "role_user":
		return users.RoleUser, nil
	case "admin", "role_admin":
		return users.RoleAdmin, nil
	}
	return "", errors.Wrap(ErrInvalidInput, "[SignUp] unknown role "+role)
}

func (s *Service) record(username, action string, success bool, reason string) {
	s.recorder.Record(audit.Event{
		Timestamp: s.nowTime(),
		Username:  username,
		Action:    action,
		Success:   success,
		Reason:    reason,
	})
}

func (s *Service) getByUsername(ctx context.Context, username string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	user, err := s.repos.Users.GetByUsername(ctx, username)
	return user, classifyDirectoryErr(err)
}

func (s *Service) getByID(ctx context.Context, id string) (*users.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	user, err := s.repos.Users.GetByID(ctx, id)
	return user, classifyDirectoryErr(err)
}

func (s *Service) createUser(ctx context.Context, user *users.User) error {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	err := s.repos.Users.Create(ctx, user)
	if stderrors.Is(err, users.ErrDuplicateUsername) || stderrors.Is(err, users.ErrDuplicateEmail) {
		return err
	}
	return classifyDirectoryErr(err)
}

func (s *Service) updateUser(ctx context.Context, user *users.User) error {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	return classifyDirectoryErr(s.repos.Users.Update(ctx, user))
}

// classifyDirectoryErr keeps not-found semantics intact and folds every
// other directory failure (timeouts included) into ErrServiceUnavailable so
// callers never hang or leak backend detail.
func classifyDirectoryErr(err error) error {
	if err == nil || stderrors.Is(err, users.ErrNotFound) {
		return err
	}
	return errors.Wrap(ErrServiceUnavailable, err.Error())
}
