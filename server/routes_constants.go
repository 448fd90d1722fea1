package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Public auth routes - no token required
	RouteSignIn               = "/api/auth/public/signin"
	RouteSignUp               = "/api/auth/public/signup"
	RouteForgotPassword       = "/api/auth/public/forgot-password"
	RouteResetPassword        = "/api/auth/public/reset-password"
	RouteVerifyTwoFactorLogin = "/api/auth/public/verify-2fa-login"

	// Protected auth routes - bearer token required
	RouteEnableTwoFactor  = "/api/auth/enable-2fa"
	RouteVerifyTwoFactor  = "/api/auth/verify-2fa"
	RouteDisableTwoFactor = "/api/auth/disable-2fa"
	RouteCurrentUser      = "/api/auth/user"
	RouteCurrentUsername  = "/api/auth/username"
	RouteSignOut          = "/api/auth/signout"

	// Federated sign-in
	RouteOAuthAuthorize = "/oauth2/authorization/{provider}"
	RouteOAuthCallback  = "/oauth2/callback/{provider}"

	// Path the frontend receives federated-login tokens on
	frontendOAuthRedirectPath = "/oauth2/redirect"
)
