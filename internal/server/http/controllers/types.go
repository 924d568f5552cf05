package controllers

import "github.com/rzbill/logfan/internal/logrecord"

// Common request/response types for HTTP controllers

// socketRequest represents one frame sent by a subscriber.
type socketRequest struct {
	Action       string                 `json:"action"`
	IdentifierID *logrecord.Identifiers `json:"identifierId,omitempty"`
	Mode         string                 `json:"mode,omitempty"`
	Filter       string                 `json:"filter,omitempty"`
	Ignore       bool                   `json:"ignore,omitempty"`
}

// connectedFrame is the first frame a subscriber receives.
type connectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// ackFrame acknowledges a subscribe or unsubscribe request.
type ackFrame struct {
	Type         string   `json:"type"`
	Ack          string   `json:"ack"`
	IdentifierID []string `json:"identifierId,omitempty"`
}

// errorFrame reports a rejected request on the socket.
type errorFrame struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}
