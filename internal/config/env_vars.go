package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	databaseDSNVar = "DATABASE_DSN"
	frontendURLVar = "FRONTEND_URL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Go User Management")
}

// GetDatabaseDSN returns the Postgres connection string. Empty means run on
// the in-memory repos.
func (EnvVars) GetDatabaseDSN() string {
	return GetEnv(databaseDSNVar, "")
}

// GetFrontendURL is the base URL reset links and federated-login redirects
// point back at.
func (EnvVars) GetFrontendURL() string {
	return GetEnv(frontendURLVar, "http://localhost:3000")
}

func (EnvVars) GetSmtpPassword() string {
	return GetEnv("SMTP_PASSWORD", "")
}

func (EnvVars) GetSmtpAccount() string {
	return GetEnv("SMTP_ACCOUNT", "")
}

func (EnvVars) GetSmtpHost() string {
	return GetEnv("SMTP_HOST", "smtp.gmail.com")
}

func (EnvVars) GetSmtpPort() string {
	return GetEnv("SMTP_PORT", "587")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
