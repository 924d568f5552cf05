package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rzbill/logfan/internal/auth"
	cfgpkg "github.com/rzbill/logfan/internal/config"
	"github.com/rzbill/logfan/internal/fanout"
	"github.com/rzbill/logfan/internal/registry"
	"github.com/rzbill/logfan/pkg/id"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Socket request actions. The legacy names are kept for existing clients.
const (
	ActionStreamLogs  = "streamLogs"
	ActionSubscribe   = "subscribe"
	ActionStopStream  = "stopStream"
	ActionUnsubscribe = "unsubscribe"
)

const (
	ackOK      = "OK"
	ackStopped = "stopped"

	errUnknownRoute   = "unknown route"
	errInvalidRequest = "invalid request"
)

// SocketController serves the websocket endpoint subscribers connect to.
//
// Each accepted socket becomes one registered connection. Frames from the
// client set or clear its subscription; records flow back through the Hub.
// Closing the socket disconnects the connection.
type SocketController struct {
	lifecycle *fanout.Lifecycle
	hub       *Hub
	verifier  auth.Verifier
	upgrader  websocket.Upgrader
	cfg       cfgpkg.GatewayConfig
	logger    logpkg.Logger
}

// NewSocketController creates a new socket controller.
//
// The verifier decides who may connect; the gateway config supplies the
// origin allow-list, frame size limit and keepalive interval.
func NewSocketController(lc *fanout.Lifecycle, hub *Hub, v auth.Verifier, cfg cfgpkg.GatewayConfig, logger logpkg.Logger) *SocketController {
	if logger == nil {
		logger = logpkg.Nop()
	}
	if v == nil {
		v = auth.NoopVerifier{}
	}
	c := &SocketController{lifecycle: lc, hub: hub, verifier: v, cfg: cfg, logger: logger.WithComponent("socket")}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return c
}

// RegisterRoutes registers the websocket route with the given router.
//
// This method sets up:
// - Connection upgrade (/v1/connect)
func (c *SocketController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/connect", c.handleConnect).Methods(http.MethodGet)
}

// handleConnect authenticates, upgrades and serves one socket until it
// closes.
//
// Authentication happens before the upgrade so a rejected client gets a
// plain 401 JSON response.
func (c *SocketController) handleConnect(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Authenticate(r, c.verifier)
	if err != nil {
		c.logger.Info("connection rejected", logpkg.Str("remote_addr", r.RemoteAddr), logpkg.Err(err))
		writeError(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return
	}
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		c.logger.Debug("upgrade failed", logpkg.Str("remote_addr", r.RemoteAddr), logpkg.Err(err))
		return
	}

	cid := id.New().String()
	ctx := logpkg.ContextWithConnectionID(r.Context(), cid)
	logger := c.logger.WithContext(ctx)
	if err := c.lifecycle.Open(ctx, cid, principal.ID, principal.Roles); err != nil {
		logger.Error("open connection", logpkg.Err(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registry unavailable"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	sock := c.hub.attach(cid, ws)
	defer func() {
		c.hub.detach(cid, sock)
		if err := c.lifecycle.Disconnect(context.WithoutCancel(ctx), cid); err != nil {
			logger.Error("disconnect", logpkg.Err(err))
		}
	}()

	if err := c.hub.send(sock, connectedFrame{Type: "connected", ConnectionID: cid}); err != nil {
		logger.Debug("send connected frame", logpkg.Err(err))
		return
	}
	c.serve(ctx, cid, sock, logger)
}

// serve runs the read loop for one socket. It returns when the client goes
// away, a read fails, or the keepalive deadline passes.
func (c *SocketController) serve(ctx context.Context, cid string, sock *socket, logger logpkg.Logger) {
	ws := sock.ws
	if c.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(c.cfg.MaxMessageBytes)
	}

	ping := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	if ping > 0 {
		pongWait := 2 * ping
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		done := make(chan struct{})
		defer close(done)
		go func() {
			t := time.NewTicker(ping)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					if err := sock.ping(time.Now().Add(c.hub.writeTimeout)); err != nil {
						logger.Debug("ping failed", logpkg.Err(err))
						return
					}
				}
			}
		}()
	}

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("socket read", logpkg.Err(err))
			}
			return
		}
		reply := c.route(ctx, cid, frame, logger)
		if err := c.hub.send(sock, reply); err != nil {
			logger.Debug("send reply", logpkg.Err(err))
			return
		}
	}
}

// route handles one client frame and returns the reply to send.
func (c *SocketController) route(ctx context.Context, cid string, frame []byte, logger logpkg.Logger) any {
	var req socketRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return errorFrame{Type: "error", Status: http.StatusBadRequest, Error: errInvalidRequest}
	}
	switch req.Action {
	case ActionStreamLogs, ActionSubscribe:
		var ids []string
		if req.IdentifierID != nil {
			ids = req.IdentifierID.Values()
		}
		conn, err := c.lifecycle.Subscribe(ctx, cid, registry.Subscription{
			Identifiers: ids,
			Mode:        req.Mode,
			Filter:      req.Filter,
			Ignore:      req.Ignore,
		})
		if err != nil {
			return c.failure(err, logger)
		}
		return ackFrame{Type: "ack", Ack: ackOK, IdentifierID: conn.Identifiers}
	case ActionStopStream, ActionUnsubscribe:
		if err := c.lifecycle.Unsubscribe(ctx, cid); err != nil {
			return c.failure(err, logger)
		}
		return ackFrame{Type: "ack", Ack: ackStopped}
	default:
		return errorFrame{Type: "error", Status: http.StatusBadRequest, Error: errUnknownRoute}
	}
}

func (c *SocketController) failure(err error, logger logpkg.Logger) errorFrame {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("socket request failed", logpkg.Err(err))
	}
	return errorFrame{Type: "error", Status: status, Error: msg}
}
