// Package transports provides the HTTP, websocket and gRPC plumbing behind
// the CLI commands.
package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// HTTPTransport publishes over the JSON API and tails over the websocket
// endpoint.
type HTTPTransport struct {
	base   string
	client *http.Client
	dialer *websocket.Dialer
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport targets the node at base, e.g. http://127.0.0.1:8080.
func NewHTTPTransport(base string) *HTTPTransport {
	return &HTTPTransport{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Publish posts records to /v1/logs.
func (t *HTTPTransport) Publish(ctx context.Context, records []json.RawMessage) ([]Position, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/v1/logs", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Annotate(err, "publish")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, errors.Errorf("publish: %s: %s", resp.Status, apiError(resp.Body))
	}
	var out struct {
		Positions []Position `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Annotate(err, "decode publish response")
	}
	return out.Positions, nil
}

type subscribeFrame struct {
	Action       string   `json:"action"`
	IdentifierID []string `json:"identifierId"`
	Mode         string   `json:"mode,omitempty"`
	Filter       string   `json:"filter,omitempty"`
	Ignore       bool     `json:"ignore,omitempty"`
}

type controlFrame struct {
	Type   string `json:"type"`
	Ack    string `json:"ack"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// Tail connects, subscribes and calls onRecord for every delivered record
// until ctx ends, the limit is reached, or the server rejects the
// subscription.
func (t *HTTPTransport) Tail(ctx context.Context, req TailRequest, onRecord func(Record) error) error {
	u, err := url.Parse(t.base + "/v1/connect")
	if err != nil {
		return errors.Trace(err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if req.Token != "" {
		u.RawQuery = url.Values{"token": {req.Token}}.Encode()
	}
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return errors.Errorf("connect: %s: %s", resp.Status, apiError(resp.Body))
		}
		return errors.Annotate(err, "connect")
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := ws.WriteJSON(subscribeFrame{
		Action:       "streamLogs",
		IdentifierID: req.Identifiers,
		Mode:         req.Mode,
		Filter:       req.Filter,
		Ignore:       req.Ignore,
	}); err != nil {
		return errors.Annotate(err, "subscribe")
	}

	seen := 0
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotate(err, "read")
		}
		records, ctl, err := splitFrame(frame)
		if err != nil {
			return err
		}
		if ctl != nil && ctl.Type == "error" {
			return errors.Errorf("server rejected request: %d %s", ctl.Status, ctl.Error)
		}
		for _, r := range records {
			if err := onRecord(r); err != nil {
				return err
			}
			seen++
			if req.Limit > 0 && seen >= req.Limit {
				return nil
			}
		}
	}
}

// splitFrame separates a frame into delivered records or a control frame.
func splitFrame(frame []byte) ([]Record, *controlFrame, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) > 0 && frame[0] == '[' {
		var recs []Record
		if err := json.Unmarshal(frame, &recs); err != nil {
			return nil, nil, errors.Annotate(err, "decode batch")
		}
		return recs, nil, nil
	}
	var ctl controlFrame
	if err := json.Unmarshal(frame, &ctl); err != nil {
		return nil, nil, errors.Annotate(err, "decode frame")
	}
	if ctl.Type != "" {
		return nil, &ctl, nil
	}
	return []Record{Record(frame)}, nil, nil
}

func apiError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(b))
}
