package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-user-management/users"
)

// Validation failure kinds. Signature and expiry problems are surfaced as
// distinct errors so the boundary can classify them without string matching.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrUnsupported      = errors.New("unsupported token")
)

// Claims are the self-contained contents of a session token. Possession of
// a validly signed, unexpired, non-revoked token is sufficient proof of
// identity for Subject.
type Claims struct {
	jwt.RegisteredClaims
	Roles              []string `json:"roles"`
	TwoFactorSatisfied bool     `json:"tfa_satisfied"`
}

// Codec signs and validates session tokens with a process-wide HMAC secret.
// Expiry is always issued-at plus the configured TTL.
type Codec struct {
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

type CodecOption func(*Codec)

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

func NewCodec(secret []byte, ttl time.Duration, options ...CodecOption) *Codec {
	c := &Codec{
		secret:  secret,
		ttl:     ttl,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.ttl == 0 {
		c.ttl = time.Hour
	}
	return c
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue creates a signed session token for the user. satisfiedTwoFactor
// records whether the 2FA challenge has been completed for this session;
// callers gate protected access on it when the user has 2FA enabled.
func (c *Codec) Issue(user *users.User, satisfiedTwoFactor bool) (string, error) {
	now := c.nowFunc()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.New().String(),
		},
		Roles:              []string{string(user.Role)},
		TwoFactorSatisfied: satisfiedTwoFactor,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Validate parses the raw token and checks signature and expiry before
// anything else. Revocation is a separate, subsequent check owned by the
// RevocationRegistry.
func (c *Codec) Validate(rawToken string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(rawToken, claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.nowFunc),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}
	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrUnsupported
	}
}
