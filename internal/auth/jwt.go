package auth

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTVerifier builds a verifier. Empty issuer or audience skips that check.
func NewJWTVerifier(secret, issuer, audience string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.NotValidf("empty jwt secret")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Principal, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return Principal{}, errors.Annotate(ErrUnauthorized, err.Error())
	}
	var opts []jwt.ValidateOption
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return Principal{}, errors.Annotate(ErrUnauthorized, err.Error())
	}

	p := Principal{ID: tok.Subject()}
	if p.ID == "" {
		p.ID = Anonymous
	}
	if raw, ok := tok.PrivateClaims()["roles"]; ok {
		p.Roles = stringList(raw)
	}
	return p, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
