package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/logrecord"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Mode selects which capture-time prefixes are stripped.
type Mode string

const (
	ModeBuild     Mode = "build"
	ModeInference Mode = "inference"
	ModeRaw       Mode = "raw"
)

// ParseMode accepts a mode name case-insensitively. Empty means build.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBuild:
		return ModeBuild, nil
	case ModeInference:
		return ModeInference, nil
	case ModeRaw:
		return ModeRaw, nil
	}
	return "", errors.NotValidf("normalize mode %q", s)
}

// UnknownTime marks a record that carried no timestamp.
const UnknownTime = "unknown"

// DefaultStream is used when a record carries no stream name.
const DefaultStream = "stdout"

var (
	bracketPrefixRE = regexp.MustCompile(`^\[.*?\]`)
	glogPrefixRE    = regexp.MustCompile(`^I.*?\]`)
)

// Config holds the redaction settings shared by every record.
type Config struct {
	SensitivePattern string
	FilteredStrings  []string
}

// Options are the per-call settings.
type Options struct {
	Mode   Mode
	Ignore bool
}

// Normalizer turns raw records into display records. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	sensitive *regexp.Regexp
	filtered  map[string]struct{}
	rules     []StripRule
	logger    logpkg.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger used to report failing steps.
func WithLogger(l logpkg.Logger) Option { return func(n *Normalizer) { n.logger = l } }

// WithRules replaces the identifier strip rule chain.
func WithRules(rules []StripRule) Option { return func(n *Normalizer) { n.rules = rules } }

// New compiles cfg. An empty sensitive pattern disables redaction.
func New(cfg Config, opts ...Option) (*Normalizer, error) {
	n := &Normalizer{
		filtered: make(map[string]struct{}, len(cfg.FilteredStrings)),
		rules:    DefaultStripRules,
		logger:   logpkg.Nop(),
	}
	if cfg.SensitivePattern != "" {
		re, err := regexp.Compile(cfg.SensitivePattern)
		if err != nil {
			return nil, errors.Annotatef(err, "sensitive pattern %q", cfg.SensitivePattern)
		}
		n.sensitive = re
	}
	for _, s := range cfg.FilteredStrings {
		n.filtered[s] = struct{}{}
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Normalize applies the pipeline to r. A step that fails leaves the text as
// it was before that step; Normalize itself never fails.
func (n *Normalizer) Normalize(r logrecord.Raw, opts Options) (out logrecord.Processed) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Warn("normalize failed, passing record through", logpkg.Str("panic", fmt.Sprint(rec)))
			out = logrecord.FromRaw(r)
		}
	}()

	out = logrecord.Processed{Identifiers: r.Identifiers, Fields: r.Fields}

	switch {
	case r.Time != nil:
		out.Time = *r.Time
	case r.Timestamp != nil:
		out.Time = *r.Timestamp
	default:
		out.Time = UnknownTime
	}
	out.Stream = DefaultStream
	if r.Stream != nil && *r.Stream != "" {
		out.Stream = *r.Stream
	}

	captured := r.Text()
	text := captured

	n.step("prefix", &text, func(s string) string {
		switch opts.Mode {
		case ModeInference:
			return glogPrefixRE.ReplaceAllLiteralString(s, "")
		case ModeRaw:
			return s
		default:
			s = bracketPrefixRE.ReplaceAllLiteralString(s, "")
			return glogPrefixRE.ReplaceAllLiteralString(s, "")
		}
	})
	text = strings.TrimSpace(text)

	if !opts.Ignore && n.sensitive != nil {
		n.step("sensitive", &text, func(s string) string {
			if n.sensitive.MatchString(s) {
				return ""
			}
			return s
		})
	}

	if n.isFiltered(captured) || n.isFiltered(text) {
		text = ""
	}

	if text != "" {
		id := r.Identifiers.First()
		n.step("strip", &text, func(s string) string {
			for _, rule := range n.rules {
				if next, ok := rule.Apply(s, id); ok {
					return next
				}
			}
			return s
		})
		n.step("cleanup", &text, stripLeadingDashes)
	}

	out.Log = text
	return out
}

func (n *Normalizer) isFiltered(s string) bool {
	if len(n.filtered) == 0 {
		return false
	}
	_, ok := n.filtered[s]
	if !ok {
		_, ok = n.filtered[strings.TrimSpace(s)]
	}
	return ok
}

// step runs fn on *text, keeping the previous value if fn panics.
func (n *Normalizer) step(name string, text *string, fn func(string) string) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Warn("normalize step failed", logpkg.Str("step", name), logpkg.Str("panic", fmt.Sprint(rec)))
		}
	}()
	*text = fn(*text)
}
