package config

// FederationConfig holds the per-provider OAuth2 client settings for
// federated sign-in.
type FederationConfig interface {
	GetGitHubClientID() string
	GetGitHubClientSecret() string
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetOAuthRedirectBase() string
}

type Federation struct{}

var _ FederationConfig = Federation{}

func (Federation) GetGitHubClientID() string {
	return GetEnv("GITHUB_CLIENT_ID", "")
}

func (Federation) GetGitHubClientSecret() string {
	return GetEnv("GITHUB_CLIENT_SECRET", "")
}

func (Federation) GetGoogleClientID() string {
	return GetEnv("GOOGLE_CLIENT_ID", "")
}

func (Federation) GetGoogleClientSecret() string {
	return GetEnv("GOOGLE_CLIENT_SECRET", "")
}

// GetOAuthRedirectBase is the externally reachable base URL of this service,
// used to build provider callback URLs.
func (Federation) GetOAuthRedirectBase() string {
	return GetEnv("OAUTH_REDIRECT_BASE", "http://localhost:8080")
}
