package controllers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzbill/logfan/internal/auth"
	cfgpkg "github.com/rzbill/logfan/internal/config"
	"github.com/rzbill/logfan/internal/fanout"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// Deps are the collaborators the controllers are built from.
type Deps struct {
	Lifecycle   *fanout.Lifecycle
	Hub         *Hub
	Verifier    auth.Verifier
	Publisher   Publisher
	Connections ConnectionLister
	DeadLetters DeadLetterSource
	Health      HealthChecker
	Gatherer    prometheus.Gatherer
	Gateway     cfgpkg.GatewayConfig
	// MaxIngestBytes bounds a POST /v1/logs body.
	MaxIngestBytes int64
}

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general     *GeneralController
	socket      *SocketController
	logs        *LogsController
	connections *ConnectionsController
}

// NewControllerRegistry creates a new controller registry.
//
// It initializes all controllers with the provided dependencies.
func NewControllerRegistry(d Deps, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:     NewGeneralController(d.Health, d.Gatherer),
		socket:      NewSocketController(d.Lifecycle, d.Hub, d.Verifier, d.Gateway, logger),
		logs:        NewLogsController(d.Publisher, d.MaxIngestBytes, logger),
		connections: NewConnectionsController(d.Connections, d.DeadLetters, d.Hub, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given router.
//
// This method sets up all HTTP endpoints for the gateway, including
// general endpoints (health, metrics), the subscriber websocket,
// log ingestion and connection inspection.
func (r *ControllerRegistry) RegisterAllRoutes(router *mux.Router) {
	r.general.RegisterRoutes(router)
	r.socket.RegisterRoutes(router)
	r.logs.RegisterRoutes(router)
	r.connections.RegisterRoutes(router)
}
