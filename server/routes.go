package server

import "net/http"

func (s *Server) initRoutes() {
	// Public auth API
	s.RegisterRouteFunc("POST "+RouteSignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteSignUp, ChainMiddleware(s.SignUpHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteForgotPassword, ChainMiddleware(s.ForgotPasswordHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteResetPassword, ChainMiddleware(s.ResetPasswordHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteVerifyTwoFactorLogin, ChainMiddleware(s.VerifyTwoFactorLoginHandler(), s.APIMiddleware()...))

	// Protected auth API
	s.RegisterRouteFunc("POST "+RouteEnableTwoFactor, s.protected(s.EnableTwoFactorHandler()))
	s.RegisterRouteFunc("POST "+RouteVerifyTwoFactor, s.protected(s.VerifyTwoFactorHandler()))
	s.RegisterRouteFunc("POST "+RouteDisableTwoFactor, s.protected(s.DisableTwoFactorHandler()))
	s.RegisterRouteFunc("GET "+RouteCurrentUser, s.protected(s.CurrentUserHandler()))
	s.RegisterRouteFunc("GET "+RouteCurrentUsername, s.protected(s.CurrentUsernameHandler()))
	s.RegisterRouteFunc("POST "+RouteSignOut, s.protected(s.SignOutHandler()))

	// Federated sign-in
	s.RegisterRouteFunc("GET "+RouteOAuthAuthorize, ChainMiddleware(s.OAuthAuthorizeHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteOAuthCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.APIMiddleware()...))
}

func (s *Server) protected(handler http.HandlerFunc) http.HandlerFunc {
	middleware := append(s.APIMiddleware(), s.RequireAuth())
	return ChainMiddleware(handler, middleware...)
}
