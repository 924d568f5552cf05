package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// JSONFormatter renders one JSON object per entry.
type JSONFormatter struct {
	// TimestampFormat defaults to time.RFC3339Nano.
	TimestampFormat string
	// IncludeCaller adds the caller file:line when known.
	IncludeCaller bool
}

func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	out := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		out[k] = jsonValue(v)
	}
	layout := f.TimestampFormat
	if layout == "" {
		layout = time.RFC3339Nano
	}
	out["ts"] = entry.Timestamp.Format(layout)
	out["level"] = entry.Level.String()
	out["msg"] = entry.Message
	if f.IncludeCaller && entry.Caller != "" {
		out["caller"] = entry.Caller
	}
	if entry.Error != nil {
		out["error"] = entry.Error.Error()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func jsonValue(v interface{}) interface{} {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// TextFormatter renders "ts LEVEL msg k=v ..." lines with keys sorted.
type TextFormatter struct {
	TimestampFormat string
	IncludeCaller   bool
}

func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = time.RFC3339
	}
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format(layout))
	buf.WriteByte(' ')
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, jsonValue(entry.Fields[k]))
	}
	if f.IncludeCaller && entry.Caller != "" {
		fmt.Fprintf(&buf, " caller=%s", entry.Caller)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
