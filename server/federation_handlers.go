package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-user-management/federation"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"
)

const (
	googleIssuerURL     = "https://accounts.google.com"
	githubUserAPIURL    = "https://api.github.com/user"
	oauthStateCookie    = "oauth_state"
	oauthStateMaxAgeSec = 600
)

// OAuthAuthorizeHandler starts the provider login: it sets a state cookie
// and redirects the browser to the provider's consent screen.
func (s *Server) OAuthAuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		oauthCfg, err := s.oauthConfig(r.Context(), provider)
		if err != nil {
			writeError(w, r, err)
			return
		}

		state := uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     oauthStateCookie,
			Value:    state,
			Path:     "/",
			MaxAge:   oauthStateMaxAgeSec,
			HttpOnly: true,
			Secure:   s.env == "PROD",
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, oauthCfg.AuthCodeURL(state), http.StatusFound)
	}
}

// OAuthCallbackHandler finishes the provider login: code exchange, identity
// extraction, merge into the local directory, then a redirect back to the
// frontend with the session token.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		code := r.FormValue("code")
		state := r.FormValue("state")

		if errParam := r.FormValue("error"); errParam != "" {
			http.Error(w, fmt.Sprintf("Authorization failed: %s - %s", errParam, r.FormValue("error_description")), http.StatusBadRequest)
			return
		}
		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		stateCookie, err := r.Cookie(oauthStateCookie)
		if err != nil || stateCookie.Value != state {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		// One shot per state.
		http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

		oauthCfg, err := s.oauthConfig(r.Context(), provider)
		if err != nil {
			writeError(w, r, err)
			return
		}

		oauth2Token, err := oauthCfg.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusBadGateway)
			return
		}

		identity, err := s.fetchIdentity(r, provider, oauthCfg, oauth2Token)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to resolve identity: %v", err), http.StatusBadGateway)
			return
		}

		result, err := s.merger.Merge(r.Context(), identity)
		if err != nil {
			writeError(w, r, err)
			return
		}

		redirectURL := s.config.GetFrontendURL() + frontendOAuthRedirectPath + "?token=" + url.QueryEscape(result.Token)
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

func (s *Server) oauthConfig(ctx context.Context, provider string) (*oauth2.Config, error) {
	redirectURL := s.config.GetOAuthRedirectBase() + "/oauth2/callback/" + provider

	switch provider {
	case federation.ProviderGitHub:
		return &oauth2.Config{
			ClientID:     s.config.GetGitHubClientID(),
			ClientSecret: s.config.GetGitHubClientSecret(),
			Endpoint:     githubendpoint.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		}, nil
	case federation.ProviderGoogle:
		oidcCfg, err := s.googleOidc(ctx)
		if err != nil {
			return nil, err
		}
		return &oauth2.Config{
			ClientID:     s.config.GetGoogleClientID(),
			ClientSecret: s.config.GetGoogleClientSecret(),
			Endpoint:     oidcCfg.OidcProvider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		}, nil
	}
	return nil, errors.Errorf("unknown provider %q", provider)
}

// googleOidc discovers and caches the Google OIDC provider metadata on
// first use.
func (s *Server) googleOidc(ctx context.Context) (OidcConfig, error) {
	s.providerOidcLock.RLock()
	cfg, ok := s.providerOidc[federation.ProviderGoogle]
	s.providerOidcLock.RUnlock()
	if ok {
		return cfg, nil
	}

	provider, err := oidc.NewProvider(ctx, googleIssuerURL)
	if err != nil {
		return OidcConfig{}, errors.Wrap(err, "[googleOidc] provider discovery")
	}
	cfg = OidcConfig{
		OidcProvider: provider,
		OidcVerifier: provider.Verifier(&oidc.Config{ClientID: s.config.GetGoogleClientID()}),
	}

	s.providerOidcLock.Lock()
	s.providerOidc[federation.ProviderGoogle] = cfg
	s.providerOidcLock.Unlock()
	return cfg, nil
}

func (s *Server) fetchIdentity(r *http.Request, provider string, oauthCfg *oauth2.Config, oauth2Token *oauth2.Token) (federation.Identity, error) {
	switch provider {
	case federation.ProviderGitHub:
		return s.fetchGitHubIdentity(r, oauthCfg, oauth2Token)
	case federation.ProviderGoogle:
		return s.fetchGoogleIdentity(r, oauth2Token)
	}
	return federation.Identity{}, errors.Errorf("unknown provider %q", provider)
}

func (s *Server) fetchGitHubIdentity(r *http.Request, oauthCfg *oauth2.Config, oauth2Token *oauth2.Token) (federation.Identity, error) {
	client := oauthCfg.Client(r.Context(), oauth2Token)
	resp, err := client.Get(githubUserAPIURL)
	if err != nil {
		return federation.Identity{}, errors.Wrap(err, "[fetchGitHubIdentity] user fetch")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return federation.Identity{}, errors.Errorf("[fetchGitHubIdentity] user fetch status %d", resp.StatusCode)
	}

	var ghUser struct {
		Login string `json:"login"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return federation.Identity{}, errors.Wrap(err, "[fetchGitHubIdentity] decode")
	}

	return federation.Identity{
		Provider: federation.ProviderGitHub,
		Email:    ghUser.Email,
		Login:    ghUser.Login,
		Name:     ghUser.Name,
	}, nil
}

func (s *Server) fetchGoogleIdentity(r *http.Request, oauth2Token *oauth2.Token) (federation.Identity, error) {
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return federation.Identity{}, errors.New("[fetchGoogleIdentity] no ID token in response")
	}

	oidcCfg, err := s.googleOidc(r.Context())
	if err != nil {
		return federation.Identity{}, err
	}
	idToken, err := oidcCfg.OidcVerifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		return federation.Identity{}, errors.Wrap(err, "[fetchGoogleIdentity] ID token verification")
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return federation.Identity{}, errors.Wrap(err, "[fetchGoogleIdentity] extract claims")
	}

	return federation.Identity{
		Provider: federation.ProviderGoogle,
		Email:    claims.Email,
		Name:     claims.Name,
	}, nil
}
