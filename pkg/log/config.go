package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// OutputConfig selects one output. Type is console, file or null.
type OutputConfig struct {
	Type string     `json:"type" yaml:"type"`
	File FileConfig `json:"file" yaml:"file"`
}

// SamplingConfig keeps the first Initial entries per message then every
// Thereafter-th.
type SamplingConfig struct {
	Initial    int `json:"initial" yaml:"initial"`
	Thereafter int `json:"thereafter" yaml:"thereafter"`
}

// Config is the declarative form of a logger.
type Config struct {
	Level         string          `json:"level" yaml:"level"`
	Format        string          `json:"format" yaml:"format"`
	IncludeCaller bool            `json:"includeCaller" yaml:"includeCaller"`
	Outputs       []OutputConfig  `json:"outputs" yaml:"outputs"`
	RedactFields  []string        `json:"redactFields" yaml:"redactFields"`
	Sampling      *SamplingConfig `json:"sampling,omitempty" yaml:"sampling,omitempty"`
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a logger from cfg.
func ApplyConfig(cfg Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		opts = append(opts, WithFormatter(&JSONFormatter{IncludeCaller: cfg.IncludeCaller}))
	case "text":
		opts = append(opts, WithFormatter(&TextFormatter{IncludeCaller: cfg.IncludeCaller}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	for _, oc := range cfg.Outputs {
		switch strings.ToLower(oc.Type) {
		case "", "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "file":
			if oc.File.Path == "" {
				return nil, fmt.Errorf("file output requires a path")
			}
			opts = append(opts, WithOutput(NewFileOutput(oc.File)))
		case "null":
			opts = append(opts, WithOutput(NewNullOutput()))
		default:
			return nil, fmt.Errorf("unknown log output %q", oc.Type)
		}
	}

	l := NewLogger(opts...).(*BaseLogger)
	h := newBridgeHandler(l).withRedactions(cfg.RedactFields)
	if cfg.Sampling != nil {
		h = h.withSampler(cfg.Sampling.Initial, cfg.Sampling.Thereafter)
	}
	l.slogLogger = slog.New(h)
	return l, nil
}
