package config

import "time"

type SecurityConfig interface {
	GetJWTSecret() []byte
	GetJWTExpiry() time.Duration
	GetResetTokenExpiry() time.Duration
	GetTotpIssuer() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetJWTSecret() []byte {
	return []byte(GetEnv("JWT_SECRET", "dev-only-jwt-secret-change-me"))
}

func (Security) GetJWTExpiry() time.Duration {
	return parseDurationEnv("JWT_EXPIRY", 3*time.Hour)
}

func (Security) GetResetTokenExpiry() time.Duration {
	return parseDurationEnv("RESET_TOKEN_EXPIRY", 24*time.Hour)
}

func (Security) GetTotpIssuer() string {
	return GetEnv("TOTP_ISSUER", "Go User Management")
}

func parseDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
