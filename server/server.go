package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/auth"
	"github.com/jrsteele09/go-user-management/federation"
	"github.com/jrsteele09/go-user-management/internal/config"
	"github.com/jrsteele09/go-user-management/reset"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OidcConfig caches the discovered provider metadata for a federated
// sign-in provider that speaks OIDC.
type OidcConfig struct {
	OidcProvider *oidc.Provider
	OidcVerifier *oidc.IDTokenVerifier
}

type Server struct {
	env         string
	mux         *http.ServeMux
	routes      []string
	config      config.Config
	auth        *auth.Service
	resets      *reset.Store
	merger      *federation.Merger
	codec       *token.Codec
	revocations token.RevocationRegistry
	recorder    audit.Recorder

	providerOidc     map[string]OidcConfig
	providerOidcLock sync.RWMutex
}

type Option func(*Server)

// WithRecorder sets the audit recorder for session-security events raised
// at the HTTP boundary.
func WithRecorder(recorder audit.Recorder) Option {
	return func(s *Server) {
		s.recorder = recorder
	}
}

func New(cfg config.Config, authService *auth.Service, resetStore *reset.Store, merger *federation.Merger, codec *token.Codec, revocations token.RevocationRegistry, options ...Option) (*Server, error) {
	if authService == nil {
		return nil, errors.New("[Server New] auth service is required")
	}
	if resetStore == nil {
		return nil, errors.New("[Server New] reset store is required")
	}
	if merger == nil {
		return nil, errors.New("[Server New] federation merger is required")
	}
	if codec == nil {
		return nil, errors.New("[Server New] token codec is required")
	}
	if revocations == nil {
		return nil, errors.New("[Server New] revocation registry is required")
	}

	s := &Server{
		mux:          http.NewServeMux(),
		config:       cfg,
		auth:         authService,
		resets:       resetStore,
		merger:       merger,
		codec:        codec,
		revocations:  revocations,
		recorder:     audit.NopRecorder{},
		providerOidc: make(map[string]OidcConfig),
	}
	s.env = cfg.GetEnv()
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			log.Info().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			log.Info().Str("path", parts[0]).Msg("route registered")
		}
	}
}
