package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. An empty path means
// ".env" in the working directory, which may be absent.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Annotatef(err, "load env file %s", path)
	}
	return nil
}

// FromEnv overlays LOGFAN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setString(&cfg.Stream.Name, "LOGFAN_STREAM_NAME")
	setInt(&cfg.Stream.Shards, "LOGFAN_STREAM_SHARDS")
	setInt(&cfg.Stream.PayloadMaxBytes, "LOGFAN_STREAM_PAYLOAD_MAX_BYTES")

	setInt(&cfg.Backfill.PageSize, "LOGFAN_BACKFILL_PAGE_SIZE")
	setInt(&cfg.Backfill.PageDelayMs, "LOGFAN_BACKFILL_PAGE_DELAY_MS")

	setInt(&cfg.Live.BatchSize, "LOGFAN_LIVE_BATCH_SIZE")
	setInt(&cfg.Live.PollIntervalMs, "LOGFAN_LIVE_POLL_INTERVAL_MS")
	setInt(&cfg.Live.DeliveryConcurrency, "LOGFAN_LIVE_DELIVERY_CONCURRENCY")

	setInt(&cfg.Dedup.Capacity, "LOGFAN_DEDUP_CAPACITY")

	setString(&cfg.Normalize.Mode, "LOGFAN_NORMALIZE_MODE")
	setString(&cfg.Normalize.SensitivePattern, "LOGFAN_NORMALIZE_SENSITIVE_PATTERN")
	setBool(&cfg.Normalize.Ignore, "LOGFAN_NORMALIZE_IGNORE")

	setInt(&cfg.Control.Workers, "LOGFAN_CONTROL_WORKERS")
	setInt(&cfg.Control.MaxAttempts, "LOGFAN_CONTROL_MAX_ATTEMPTS")

	setString(&cfg.Auth.Mode, "LOGFAN_AUTH_MODE")
	setString(&cfg.Auth.JWTSecret, "LOGFAN_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "LOGFAN_JWT_ISS")
	setString(&cfg.Auth.JWTAudience, "LOGFAN_JWT_AUD")
	setString(&cfg.Auth.Endpoint, "LOGFAN_AUTH_ENDPOINT")

	if v := os.Getenv("LOGFAN_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Log.Level, "LOGFAN_LOG_LEVEL")
	setString(&cfg.Log.Format, "LOGFAN_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
