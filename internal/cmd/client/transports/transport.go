package transports

import (
	"context"
	"encoding/json"
)

// Position is where the server stored one published record.
type Position struct {
	Shard uint32 `json:"shard"`
	Seq   uint64 `json:"seq"`
}

// TailRequest describes a websocket subscription.
type TailRequest struct {
	// Token is sent as the token query parameter when set.
	Token       string
	Identifiers []string
	Mode        string
	Filter      string
	Ignore      bool
	// Limit stops the tail after that many records; 0 means until ctx ends.
	Limit int
}

// Record is one delivered record as the server rendered it.
type Record = json.RawMessage

// Transport abstracts how the CLI reaches a logfan node.
type Transport interface {
	Publish(ctx context.Context, records []json.RawMessage) ([]Position, error)
	Tail(ctx context.Context, req TailRequest, onRecord func(Record) error) error
}

// HealthChecker probes a node.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}
