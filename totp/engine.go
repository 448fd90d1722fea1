package totp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrSecretEmpty = errors.New("totp secret is empty")

const (
	secretSizeBytes = 20
	period          = 30
	// skewSteps accepts one time step either side of now to tolerate
	// client clock drift.
	skewSteps = 1
)

// Engine generates shared secrets, builds provisioning URIs, and verifies
// time-windowed codes. Verification is pure and safe for concurrent use;
// binding a secret to a user is the caller's job.
type Engine struct {
	issuer  string
	nowFunc func() time.Time
}

type EngineOption func(*Engine)

func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

func NewEngine(issuer string, options ...EngineOption) *Engine {
	e := &Engine{
		issuer:  issuer,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// GenerateSecret returns a fresh cryptographically random shared secret,
// base32 encoded without padding so it pastes cleanly into authenticator
// apps.
func (e *Engine) GenerateSecret() (string, error) {
	buf := make([]byte, secretSizeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("totp.GenerateSecret rand.Read: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// ProvisioningURI builds the otpauth:// URL an authenticator app enrolls
// from. Construction is deterministic and has no side effects.
func (e *Engine) ProvisioningURI(secret, accountLabel string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrSecretEmpty
	}

	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", e.issuer)
	values.Set("algorithm", otp.AlgorithmSHA1.String())
	values.Set("digits", otp.DigitsSix.String())
	values.Set("period", fmt.Sprintf("%d", period))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + e.issuer + ":" + accountLabel,
		RawQuery: values.Encode(),
	}
	return u.String(), nil
}

// Verify checks a numeric code against the secret using the standard
// time-step window with ±1 step of skew.
func (e *Engine) Verify(secret, code string) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, ErrSecretEmpty
	}

	valid, err := totp.ValidateCustom(code, secret, e.nowFunc(), totp.ValidateOpts{
		Period:    period,
		Skew:      skewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("totp.Verify: %w", err)
	}
	return valid, nil
}
