// Package auth establishes who is behind a connection before it is
// registered. A Verifier turns a bearer token into a Principal or rejects
// it with ErrUnauthorized; the fan-out core never sees which strategy was
// used.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/juju/errors"
)

// ErrUnauthorized rejects a connection attempt.
const ErrUnauthorized = errors.ConstError("unauthorized")

// Anonymous is the principal used when a token carries no subject.
const Anonymous = "anonymous"

// Principal is a verified identity.
type Principal struct {
	ID    string
	Roles []string
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// TokenFromRequest reads the token from the token query parameter, then from
// an Authorization: Bearer header.
func TokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// Authenticate extracts and verifies the request token. A missing token is
// only accepted by verifiers that allow anonymous access.
func Authenticate(r *http.Request, v Verifier) (Principal, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		if a, ok := v.(interface{ AllowsAnonymous() bool }); ok && a.AllowsAnonymous() {
			return Principal{ID: Anonymous}, nil
		}
		return Principal{}, errors.Annotate(ErrUnauthorized, "token not found")
	}
	return v.Verify(r.Context(), tok)
}

// NoopVerifier accepts every request as Anonymous.
type NoopVerifier struct{}

func (NoopVerifier) AllowsAnonymous() bool { return true }

func (NoopVerifier) Verify(context.Context, string) (Principal, error) {
	return Principal{ID: Anonymous}, nil
}
