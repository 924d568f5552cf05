package controllers

import (
	"context"
	"net/http"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/logfan/internal/fanout"
	"github.com/rzbill/logfan/internal/registry"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{registry.ErrIdentifierRequired, http.StatusBadRequest, "identifierId required"},
		{errors.Annotate(registry.ErrIdentifierRequired, "subscribe"), http.StatusBadRequest, "identifierId required"},
		{errors.NotValidf("filter %q", "x"), http.StatusBadRequest, `filter "x" not valid`},
		{errors.NotFoundf("connection c1"), http.StatusNotFound, "connection c1 not found"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}
	for _, c := range cases {
		status, msg := statusFor(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.msg, msg)
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed(nil, "https://a"))
	assert.True(t, OriginAllowed([]string{"https://a"}, ""))
	assert.True(t, OriginAllowed([]string{"https://a"}, "https://a"))
	assert.False(t, OriginAllowed([]string{"https://a"}, "https://b"))
	assert.True(t, OriginAllowed([]string{"*"}, "https://b"))
}

func TestSplitPayloads(t *testing.T) {
	c := NewLogsController(nil, 0, nil)

	got, err := c.split([]byte(`{"identifierId":"a","log":"x"}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"identifierId":"a","log":"x"}`, string(got[0]))

	got, err = c.split([]byte(`[{"log":"x"}, "eyJsb2ciOiJ5In0="]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eyJsb2ciOiJ5In0=", string(got[1]))

	_, err = c.split([]byte(`[{"log":"x"}, 3]`))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = c.split([]byte(`true`))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = c.split([]byte(`{`))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestHubPushUnknownIsGone(t *testing.T) {
	h := NewHub(0, nil)
	err := h.Push(context.Background(), "nobody", []byte(`{}`))
	assert.True(t, errors.Is(err, fanout.ErrGone))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.Push(ctx, "nobody", []byte(`{}`))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, h.Count())
}
