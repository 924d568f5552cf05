package logrecord

import (
	"encoding/json"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Field names with special meaning in a record.
const (
	FieldIdentifier = "identifierId"
	FieldTime       = "time"
	FieldTimestamp  = "@timestamp"
	FieldStream     = "stream"
	FieldLog        = "log"
	FieldMessage    = "message"
)

// Raw is a decoded log record as produced upstream. Fields keeps every
// top-level member as raw JSON so processed records can carry them through.
type Raw struct {
	Identifiers Identifiers
	Time        *string
	Timestamp   *string
	Stream      *string
	Log         string
	Message     *string
	Fields      map[string]json.RawMessage
}

// Text is the primary text field, falling back to message when log is empty.
func (r Raw) Text() string {
	if r.Log == "" && r.Message != nil {
		return *r.Message
	}
	return r.Log
}

// Processed is a normalized record ready to be delivered.
type Processed struct {
	Identifiers Identifiers
	Time        string
	Stream      string
	Log         string
	Fields      map[string]json.RawMessage
}

// FromRaw wraps a raw record without applying any normalization.
func FromRaw(r Raw) Processed {
	p := Processed{Identifiers: r.Identifiers, Log: r.Text(), Fields: r.Fields}
	if r.Time != nil {
		p.Time = *r.Time
	}
	if r.Stream != nil {
		p.Stream = *r.Stream
	}
	return p
}

// MarshalJSON emits the raw fields with time, stream and log replaced by
// their processed values. Empty time and stream are left as captured.
func (p Processed) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Fields)+3)
	for k, v := range p.Fields {
		out[k] = v
	}
	set := func(key, value string) error {
		b, err := json.Marshal(value)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if p.Time != "" {
		if err := set(FieldTime, p.Time); err != nil {
			return nil, err
		}
	}
	if p.Stream != "" {
		if err := set(FieldStream, p.Stream); err != nil {
			return nil, err
		}
	}
	if err := set(FieldLog, p.Log); err != nil {
		return nil, err
	}
	if _, ok := out[FieldIdentifier]; !ok && !p.Identifiers.Empty() {
		b, err := p.Identifiers.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out[FieldIdentifier] = b
	}
	return json.Marshal(out)
}

// StringField returns a top-level string field, used by subscription filters.
func (p Processed) StringField(name string) (string, bool) {
	raw, ok := p.Fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Fingerprint identifies a delivered event for deduplication.
type Fingerprint uint64

// Fingerprint hashes the normalized text, timestamp and identifiers.
func (p Processed) Fingerprint() Fingerprint {
	d := xxhash.New()
	_, _ = d.WriteString(p.Log)
	_, _ = d.WriteString("\x1f")
	_, _ = d.WriteString(p.Time)
	_, _ = d.WriteString("\x1f")
	_, _ = d.WriteString(strings.Join(p.Identifiers.values, "\x1e"))
	return Fingerprint(d.Sum64())
}
