package controllers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/fanout"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Hub tracks the open websocket of every connection id and implements
// fanout.Pusher on top of them.
//
// Writes to one socket are serialized; writes to different sockets proceed
// in parallel. A socket whose write fails is closed and removed, and the
// caller sees fanout.ErrGone from then on.
type Hub struct {
	mu           sync.RWMutex
	sockets      map[string]*socket
	writeTimeout time.Duration
	logger       logpkg.Logger
}

var _ fanout.Pusher = (*Hub)(nil)

// NewHub creates an empty hub. writeTimeout bounds every frame write.
func NewHub(writeTimeout time.Duration, logger logpkg.Logger) *Hub {
	if logger == nil {
		logger = logpkg.Nop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		sockets:      make(map[string]*socket),
		writeTimeout: writeTimeout,
		logger:       logger.WithComponent("hub"),
	}
}

type socket struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (s *socket) write(msgType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	if err := s.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.ws.WriteMessage(msgType, data)
}

func (s *socket) ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.ws.Close()
}

func (h *Hub) attach(cid string, ws *websocket.Conn) *socket {
	s := &socket{ws: ws}
	h.mu.Lock()
	prev := h.sockets[cid]
	h.sockets[cid] = s
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return s
}

// detach removes cid if it is still bound to s.
func (h *Hub) detach(cid string, s *socket) {
	h.mu.Lock()
	if h.sockets[cid] == s {
		delete(h.sockets, cid)
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) lookup(cid string) *socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sockets[cid]
}

func (h *Hub) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(h.writeTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// Push writes payload to cid as one text frame.
func (h *Hub) Push(ctx context.Context, cid string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := h.lookup(cid)
	if s == nil {
		return fanout.ErrGone
	}
	if err := s.write(websocket.TextMessage, payload, h.deadline(ctx)); err != nil {
		h.logger.Debug("push write failed, dropping socket", logpkg.Str("connection_id", cid), logpkg.Err(err))
		h.detach(cid, s)
		return errors.Annotatef(fanout.ErrGone, "write: %v", err)
	}
	return nil
}

// send writes v as JSON to s.
func (h *Hub) send(s *socket, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	return s.write(websocket.TextMessage, b, time.Now().Add(h.writeTimeout))
}

// Count returns the number of attached sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sockets)
}

// CloseAll closes every attached socket. Their read loops then run the
// normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*socket, 0, len(h.sockets))
	for _, s := range h.sockets {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.close()
	}
}
