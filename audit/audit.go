// Package audit carries authentication-result events to an external
// consumer. The core emits one event per authentication attempt; storage
// and querying of the trail live outside this service.
package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Action names for authentication events.
const (
	ActionSignIn          = "signin"
	ActionSignUp          = "signup"
	ActionTwoFactorLogin  = "two_factor_login"
	ActionPasswordReset   = "password_reset"
	ActionFederatedLogin  = "federated_login"
	ActionTokenRevocation = "token_revocation"
)

// Event is a single authentication result.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username,omitempty"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// Recorder consumes authentication events. Implementations must not block
// the authentication path.
type Recorder interface {
	Record(event Event)
}

// ZerologRecorder writes events to the structured log.
type ZerologRecorder struct {
	logger zerolog.Logger
}

func NewZerologRecorder() *ZerologRecorder {
	return &ZerologRecorder{logger: log.With().Str("component", "audit").Logger()}
}

func (r *ZerologRecorder) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("username", event.Username).
		Str("action", event.Action).
		Bool("success", event.Success).
		Str("reason", event.Reason).
		Msg("auth event")
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
