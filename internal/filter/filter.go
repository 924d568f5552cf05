// Package filter evaluates optional per-subscription CEL predicates against
// processed records.
//
// Expressions see these variables:
//
//	log         string              normalized text
//	stream      string              stdout or stderr
//	time        string              record timestamp or "unknown"
//	identifiers list(string)        the record's identifiers
//	fields      map(string, dyn)    every top-level field of the raw record
package filter

import (
	"encoding/json"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/logrecord"
)

// Program is a compiled filter expression.
type Program struct {
	expr string
	prg  cel.Program
}

// Expr returns the source expression.
func (p *Program) Expr() string { return p.expr }

// Match evaluates the program against rec.
func (p *Program) Match(rec logrecord.Processed) (bool, error) {
	out, _, err := p.prg.Eval(activation(rec))
	if err != nil {
		return false, errors.Annotatef(err, "evaluate filter %q", p.expr)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.NotValidf("filter %q result %T", p.expr, out.Value())
	}
	return b, nil
}

func activation(rec logrecord.Processed) map[string]any {
	fields := make(map[string]any, len(rec.Fields))
	for k, raw := range rec.Fields {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			fields[k] = v
		}
	}
	return map[string]any{
		"log":         rec.Log,
		"stream":      rec.Stream,
		"time":        rec.Time,
		"identifiers": rec.Identifiers.Values(),
		"fields":      fields,
	}
}

// Compiler compiles and caches filter programs. Safe for concurrent use.
type Compiler struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]*Program
}

// NewCompiler builds the CEL environment.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("log", cel.StringType),
		cel.Variable("stream", cel.StringType),
		cel.Variable("time", cel.StringType),
		cel.Variable("identifiers", cel.ListType(cel.StringType)),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Annotate(err, "cel environment")
	}
	return &Compiler{env: env, cache: make(map[string]*Program)}, nil
}

// Compile type-checks expr. The result must be a bool or dyn expression.
func (c *Compiler) Compile(expr string) (*Program, error) {
	c.mu.RLock()
	p, ok := c.cache[expr]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.NewNotValid(iss.Err(), "filter expression")
	}
	switch ast.OutputType().String() {
	case "bool", "dyn":
	default:
		return nil, errors.NotValidf("filter %q of type %s", expr, ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, errors.Annotatef(err, "program %q", expr)
	}
	p = &Program{expr: expr, prg: prg}

	c.mu.Lock()
	c.cache[expr] = p
	c.mu.Unlock()
	return p, nil
}

// Match compiles expr and evaluates it against rec. An empty expression
// matches everything.
func (c *Compiler) Match(expr string, rec logrecord.Processed) (bool, error) {
	if expr == "" {
		return true, nil
	}
	p, err := c.Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Match(rec)
}
