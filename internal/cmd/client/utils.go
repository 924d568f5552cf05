package client

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// AddrFunc provides the gRPC address.
type AddrFunc func() string

// BaseURLFromEnv returns LOGFAN_HTTP or the local default.
func BaseURLFromEnv() string {
	if v := os.Getenv("LOGFAN_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// GRPCAddrFromEnv returns LOGFAN_GRPC or the local default.
func GRPCAddrFromEnv() string {
	if addr := os.Getenv("LOGFAN_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// splitIdentifiers accepts repeated or comma-separated identifier flags.
func splitIdentifiers(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// recordsFromLines wraps every non-empty line of r as a log record. Lines
// that are already JSON objects are sent as they are.
func recordsFromLines(r io.Reader, ids []string, stream string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := buildRecord(line, ids, stream)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Annotate(err, "read input")
	}
	return out, nil
}

func buildRecord(line string, ids []string, stream string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	rec := map[string]any{"log": line}
	switch len(ids) {
	case 0:
	case 1:
		rec["identifierId"] = ids[0]
	default:
		rec["identifierId"] = ids
	}
	if stream != "" {
		rec["stream"] = stream
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b, nil
}
