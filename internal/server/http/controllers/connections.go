package controllers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rzbill/logfan/internal/control"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// ConnectionLister lists registered connections.
type ConnectionLister interface {
	List(ctx context.Context) ([]registry.Connection, error)
}

// DeadLetterSource lists control messages that exhausted their attempts.
type DeadLetterSource interface {
	DeadLetters(limit int) ([]control.Message, error)
}

// ConnectionsController exposes read-only views of connection state.
//
// It reports the registry rows alongside the number of sockets this node
// holds, and the control messages parked in the dead-letter queue.
type ConnectionsController struct {
	conns  ConnectionLister
	dlq    DeadLetterSource
	hub    *Hub
	logger logpkg.Logger
}

// NewConnectionsController creates a new connections controller.
func NewConnectionsController(conns ConnectionLister, dlq DeadLetterSource, hub *Hub, logger logpkg.Logger) *ConnectionsController {
	if logger == nil {
		logger = logpkg.Nop()
	}
	return &ConnectionsController{conns: conns, dlq: dlq, hub: hub, logger: logger.WithComponent("connections")}
}

// RegisterRoutes registers connection routes with the given router.
//
// This method sets up HTTP endpoints for:
// - Connection listing (/v1/connections)
// - Dead-lettered control messages (/v1/control/dlq)
func (c *ConnectionsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/connections", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/control/dlq", c.handleDLQ).Methods(http.MethodGet)
}

// handleList lists all registered connections.
//
// Returns {"connections": [...], "sockets": n}.
func (c *ConnectionsController) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := c.conns.List(r.Context())
	if err != nil {
		c.logger.Error("list connections", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to list connections")
		return
	}
	if list == nil {
		list = []registry.Connection{}
	}
	sockets := 0
	if c.hub != nil {
		sockets = c.hub.Count()
	}
	writeJSON(w, map[string]any{"connections": list, "sockets": sockets})
}

// handleDLQ lists dead-lettered control messages.
//
// Query parameters:
// - limit: maximum number of messages (default 100)
func (c *ConnectionsController) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if c.dlq == nil {
		writeJSON(w, map[string]any{"messages": []control.Message{}})
		return
	}
	msgs, err := c.dlq.DeadLetters(parseLimit(r.URL.Query().Get("limit"), 100))
	if err != nil {
		c.logger.Error("list dead letters", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	if msgs == nil {
		msgs = []control.Message{}
	}
	writeJSON(w, map[string]any{"messages": msgs})
}
