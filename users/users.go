package users

import (
	"fmt"
	"time"

	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType represents a user role. The set is closed: roles are resolved
// against the role directory at signup time and never parsed from free text
// after that.
type RoleType string

const (
	RoleUser  RoleType = "ROLE_USER"
	RoleAdmin RoleType = "ROLE_ADMIN"
)

// SignUpMethodEmail marks accounts created through the signup endpoint.
// Federated signups record the provider name instead.
const SignUpMethodEmail = "email"

type User struct {
	ID           string `json:"id,omitempty"`       // Unique identifier for the user
	Username     string `json:"username,omitempty"` // Unique username
	Email        string `json:"email,omitempty"`    // User's email address, unique
	PasswordHash string `json:"-"`                  // Hashed version of the user's password - never serialize

	// Account status flags, each independently toggleable
	Enabled            bool `json:"enabled,omitempty"`
	AccountLocked      bool `json:"account_locked,omitempty"`
	AccountExpired     bool `json:"account_expired,omitempty"`
	CredentialsExpired bool `json:"credentials_expired,omitempty"`

	// FailedLoginAttempts is maintained for an external lockout policy.
	// The core never locks an account on its own.
	FailedLoginAttempts int `json:"failed_login_attempts,omitempty"`

	// Two-factor state. TotpSecret is set while enrollment is pending or
	// 2FA is active, empty otherwise.
	TotpSecret       string `json:"-"`
	TwoFactorEnabled bool   `json:"two_factor_enabled,omitempty"`

	Role RoleType `json:"role,omitempty"` // Exactly one role from the closed set

	AccountExpiryDate     time.Time `json:"account_expiry_date,omitempty"`
	CredentialsExpiryDate time.Time `json:"credentials_expiry_date,omitempty"`
	SignUpMethod          string    `json:"sign_up_method,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// TwoFactorPending reports whether a secret has been generated but 2FA has
// not yet been confirmed with a valid code.
func (u *User) TwoFactorPending() bool {
	return u.TotpSecret != "" && !u.TwoFactorEnabled
}

// AccountExpiredAt reports whether the account has been administratively
// expired or its expiry date has passed.
func (u *User) AccountExpiredAt(now time.Time) bool {
	if u.AccountExpired {
		return true
	}
	return !u.AccountExpiryDate.IsZero() && now.After(u.AccountExpiryDate)
}

// CredentialsExpiredAt reports whether the stored credentials are past their
// expiry.
func (u *User) CredentialsExpiredAt(now time.Time) bool {
	if u.CredentialsExpired {
		return true
	}
	return !u.CredentialsExpiryDate.IsZero() && now.After(u.CredentialsExpiryDate)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
