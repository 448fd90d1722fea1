package config

type Config interface {
	EnvConfig
	CorsConfig
	FederationConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDatabaseDSN() string
	GetFrontendURL() string
	GetSmtpHost() string
	GetSmtpPort() string
	GetSmtpPassword() string
	GetSmtpAccount() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Federation
	Security
}

func New() Config {
	return mainConfig{}
}
