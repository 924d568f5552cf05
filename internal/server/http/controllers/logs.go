package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/valyala/fastjson"

	"github.com/rzbill/logfan/internal/logstream"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Publisher appends records to the log stream.
type Publisher interface {
	Publish(ctx context.Context, payloads [][]byte) ([]logstream.Position, error)
}

// LogsController handles log ingestion.
//
// Ingested records are appended to the sharded stream; the tailer picks
// them up from there, so a 202 means durable, not delivered.
type LogsController struct {
	pub      Publisher
	maxBytes int64
	logger   logpkg.Logger
	parsers  fastjson.ParserPool
}

// NewLogsController creates a new logs controller. maxBytes bounds the
// request body; zero means 8MiB.
func NewLogsController(pub Publisher, maxBytes int64, logger logpkg.Logger) *LogsController {
	if logger == nil {
		logger = logpkg.Nop()
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &LogsController{pub: pub, maxBytes: maxBytes, logger: logger.WithComponent("logs")}
}

// RegisterRoutes registers log routes with the given router.
//
// This method sets up:
// - Ingestion (/v1/logs)
func (c *LogsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/logs", c.handlePublish).Methods(http.MethodPost)
}

// handlePublish ingests one record or an array of records.
//
// Each element may be a JSON object or a base64 string wrapping one.
// Returns 202 Accepted with the shard position of every record, or 400 if
// any record is malformed, in which case nothing is written.
func (c *LogsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	payloads, err := c.split(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payloads) == 0 {
		writeError(w, http.StatusBadRequest, "No records")
		return
	}
	positions, err := c.pub.Publish(r.Context(), payloads)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			c.logger.Error("publish failed", logpkg.Int("records", len(payloads)), logpkg.Err(err))
		}
		writeError(w, status, msg)
		return
	}
	writeAccepted(w, map[string]any{"positions": positions})
}

// split turns a request body into individual payloads.
func (c *LogsController) split(body []byte) ([][]byte, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, errors.NewNotValid(err, "invalid request body")
	}
	switch v.Type() {
	case fastjson.TypeObject:
		return [][]byte{v.MarshalTo(nil)}, nil
	case fastjson.TypeString:
		return [][]byte{append([]byte(nil), v.GetStringBytes()...)}, nil
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([][]byte, 0, len(items))
		for i, item := range items {
			switch item.Type() {
			case fastjson.TypeObject:
				out = append(out, item.MarshalTo(nil))
			case fastjson.TypeString:
				out = append(out, append([]byte(nil), item.GetStringBytes()...))
			default:
				return nil, errors.NotValidf("record %d is a %s", i, item.Type())
			}
		}
		return out, nil
	default:
		return nil, errors.NotValidf("request body is a %s", v.Type())
	}
}
