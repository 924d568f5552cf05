package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	logpkg "github.com/rzbill/logfan/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Stream    StreamConfig    `json:"stream" yaml:"stream"`
	Backfill  BackfillConfig  `json:"backfill" yaml:"backfill"`
	Live      LiveConfig      `json:"live" yaml:"live"`
	Dedup     DedupConfig     `json:"dedup" yaml:"dedup"`
	Normalize NormalizeConfig `json:"normalize" yaml:"normalize"`
	Control   ControlConfig   `json:"control" yaml:"control"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Log       logpkg.Config   `json:"log" yaml:"log"`
}

// StreamConfig names the sharded log that backfill replays and the tailer
// follows.
type StreamConfig struct {
	Name            string `json:"name" yaml:"name"`
	Shards          int    `json:"shards" yaml:"shards"`
	PayloadMaxBytes int    `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
}

type BackfillConfig struct {
	PageSize    int `json:"pageSize" yaml:"pageSize"`
	PageDelayMs int `json:"pageDelayMs" yaml:"pageDelayMs"`
}

func (b BackfillConfig) PageDelay() time.Duration {
	return time.Duration(b.PageDelayMs) * time.Millisecond
}

type LiveConfig struct {
	BatchSize           int    `json:"batchSize" yaml:"batchSize"`
	PollIntervalMs      int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	CursorGroup         string `json:"cursorGroup" yaml:"cursorGroup"`
	DeliveryConcurrency int    `json:"deliveryConcurrency" yaml:"deliveryConcurrency"`
}

func (l LiveConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalMs) * time.Millisecond
}

type DedupConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

type NormalizeConfig struct {
	// Mode is build, inference or raw.
	Mode             string   `json:"mode" yaml:"mode"`
	SensitivePattern string   `json:"sensitivePattern" yaml:"sensitivePattern"`
	FilteredStrings  []string `json:"filteredStrings" yaml:"filteredStrings"`
	// Ignore disables sensitive-pattern blanking.
	Ignore bool `json:"ignore" yaml:"ignore"`
}

type ControlConfig struct {
	Queue          string `json:"queue" yaml:"queue"`
	Workers        int    `json:"workers" yaml:"workers"`
	LeaseMs        int64  `json:"leaseMs" yaml:"leaseMs"`
	MaxAttempts    int    `json:"maxAttempts" yaml:"maxAttempts"`
	RetryAfterMs   int64  `json:"retryAfterMs" yaml:"retryAfterMs"`
	PollIntervalMs int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
}

func (c ControlConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// AuthConfig selects how a connection's principal is established.
// Mode is jwt, remote or none.
type AuthConfig struct {
	Mode        string `json:"mode" yaml:"mode"`
	JWTSecret   string `json:"jwtSecret" yaml:"jwtSecret"`
	JWTIssuer   string `json:"jwtIssuer" yaml:"jwtIssuer"`
	JWTAudience string `json:"jwtAudience" yaml:"jwtAudience"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	TimeoutMs   int    `json:"timeoutMs" yaml:"timeoutMs"`
}

type GatewayConfig struct {
	AllowedOrigins  []string `json:"allowedOrigins" yaml:"allowedOrigins"`
	WriteTimeoutMs  int      `json:"writeTimeoutMs" yaml:"writeTimeoutMs"`
	PingIntervalMs  int      `json:"pingIntervalMs" yaml:"pingIntervalMs"`
	MaxMessageBytes int64    `json:"maxMessageBytes" yaml:"maxMessageBytes"`
}

// LicenseBoilerplate is emitted by NGC containers on start and never shown.
const LicenseBoilerplate = "By pulling and using the container, you accept the terms and conditions of this license:"

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			Name:            "workloads",
			Shards:          4,
			PayloadMaxBytes: 1 << 20,
		},
		Backfill: BackfillConfig{PageSize: 1000, PageDelayMs: 100},
		Live: LiveConfig{
			BatchSize:           128,
			PollIntervalMs:      50,
			CursorGroup:         "live",
			DeliveryConcurrency: 8,
		},
		Dedup: DedupConfig{Capacity: 1000},
		Normalize: NormalizeConfig{
			Mode:             "build",
			SensitivePattern: "(?i)(nvidia|triton)",
			FilteredStrings:  []string{LicenseBoilerplate},
		},
		Control: ControlConfig{
			Queue:          "control",
			Workers:        4,
			LeaseMs:        30_000,
			MaxAttempts:    5,
			RetryAfterMs:   1_000,
			PollIntervalMs: 100,
		},
		Auth: AuthConfig{Mode: "jwt", TimeoutMs: 5_000},
		Gateway: GatewayConfig{
			WriteTimeoutMs:  10_000,
			PingIntervalMs:  30_000,
			MaxMessageBytes: 64 << 10,
		},
		Log: logpkg.Config{Level: "info", Format: "json"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "read config %s", path)
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse yaml config %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse json config %s", path)
		}
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Stream.Name == "" {
		return errors.NotValidf("empty stream name")
	}
	if c.Stream.Shards <= 0 {
		return errors.NotValidf("stream shards %d", c.Stream.Shards)
	}
	if c.Backfill.PageSize <= 0 {
		return errors.NotValidf("backfill page size %d", c.Backfill.PageSize)
	}
	if c.Backfill.PageDelayMs < 0 {
		return errors.NotValidf("backfill page delay %dms", c.Backfill.PageDelayMs)
	}
	if c.Dedup.Capacity <= 0 {
		return errors.NotValidf("dedup capacity %d", c.Dedup.Capacity)
	}
	switch c.Normalize.Mode {
	case "build", "inference", "raw":
	default:
		return errors.NotValidf("normalize mode %q", c.Normalize.Mode)
	}
	if c.Normalize.SensitivePattern != "" {
		if _, err := regexp.Compile(c.Normalize.SensitivePattern); err != nil {
			return errors.NotValidf("sensitive pattern %q", c.Normalize.SensitivePattern)
		}
	}
	if c.Control.Workers <= 0 {
		return errors.NotValidf("control workers %d", c.Control.Workers)
	}
	if c.Control.MaxAttempts <= 0 {
		return errors.NotValidf("control max attempts %d", c.Control.MaxAttempts)
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return errors.NotValidf("jwt auth without secret")
		}
	case "remote":
		if c.Auth.Endpoint == "" {
			return errors.NotValidf("remote auth without endpoint")
		}
	case "none":
	default:
		return errors.NotValidf("auth mode %q", c.Auth.Mode)
	}
	return nil
}
