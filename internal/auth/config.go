package auth

import (
	"strings"
	"time"

	"github.com/juju/errors"

	cfgpkg "github.com/rzbill/logfan/internal/config"
)

// Strategy names accepted in configuration.
const (
	ModeJWT    = "jwt"
	ModeRemote = "remote"
	ModeNone   = "none"
)

// FromConfig builds the verifier selected by cfg.Mode.
func FromConfig(cfg cfgpkg.AuthConfig) (Verifier, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeJWT:
		return NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	case ModeRemote:
		return NewRemoteVerifier(cfg.Endpoint, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	case ModeNone:
		return NoopVerifier{}, nil
	}
	return nil, errors.NotValidf("auth mode %q", cfg.Mode)
}
