package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
)

// RemoteVerifier delegates to an identity service that answers
// GET {endpoint}/users/profile for a bearer token.
type RemoteVerifier struct {
	endpoint string
	client   *http.Client
}

// NewRemoteVerifier builds a verifier against endpoint.
func NewRemoteVerifier(endpoint string, timeout time.Duration) (*RemoteVerifier, error) {
	if endpoint == "" {
		return nil, errors.NotValidf("empty auth endpoint")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteVerifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type profileResponse struct {
	Status  string `json:"status"`
	Details *struct {
		ID    string   `json:"id"`
		Roles []string `json:"roles"`
	} `json:"details"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/users/profile", nil)
	if err != nil {
		return Principal{}, errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Principal{}, errors.Annotate(err, "identity lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Principal{}, errors.Annotatef(ErrUnauthorized, "identity service returned %d", resp.StatusCode)
	}
	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Principal{}, errors.Annotatef(ErrUnauthorized, "identity response: %v", err)
	}
	if body.Status != "success" || body.Details == nil {
		return Principal{}, errors.Annotatef(ErrUnauthorized, "identity status %q", body.Status)
	}
	p := Principal{ID: body.Details.ID, Roles: body.Details.Roles}
	if p.ID == "" {
		p.ID = Anonymous
	}
	return p, nil
}
