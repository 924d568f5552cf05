package fanout

import (
	"github.com/rzbill/logfan/internal/filter"
	"github.com/rzbill/logfan/internal/logrecord"
	"github.com/rzbill/logfan/internal/normalize"
	"github.com/rzbill/logfan/internal/registry"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Processor turns a raw record into what a given connection should receive.
type Processor struct {
	norm        *normalize.Normalizer
	filters     *filter.Compiler
	defaultMode normalize.Mode
	logger      logpkg.Logger
}

// NewProcessor builds a Processor. filters may be nil to disable
// subscription filters.
func NewProcessor(norm *normalize.Normalizer, filters *filter.Compiler, defaultMode normalize.Mode, logger logpkg.Logger) *Processor {
	if logger == nil {
		logger = logpkg.Nop()
	}
	if defaultMode == "" {
		defaultMode = normalize.ModeBuild
	}
	return &Processor{norm: norm, filters: filters, defaultMode: defaultMode, logger: logger}
}

// Options returns the normalization options for conn.
func (p *Processor) Options(conn registry.Connection) normalize.Options {
	mode := p.defaultMode
	if conn.Mode != "" {
		if m, err := normalize.ParseMode(conn.Mode); err == nil {
			mode = m
		}
	}
	return normalize.Options{Mode: mode, Ignore: conn.Ignore}
}

// Prepare normalizes raw for conn. It reports false when the record must not
// be delivered: empty after redaction, or rejected by the connection's
// filter.
func (p *Processor) Prepare(conn registry.Connection, raw logrecord.Raw) (logrecord.Processed, bool) {
	rec := p.norm.Normalize(raw, p.Options(conn))
	if rec.Log == "" {
		return rec, false
	}
	if conn.Filter == "" || p.filters == nil {
		return rec, true
	}
	ok, err := p.filters.Match(conn.Filter, rec)
	if err != nil {
		p.logger.Debug("filter evaluation failed", logpkg.Str("connection_id", conn.ID), logpkg.Err(err))
		return rec, false
	}
	return rec, ok
}
