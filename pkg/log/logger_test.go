package log

import (
	"bytes"
	"context"
	"encoding/json"
	stdlog "log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(level Level, f Formatter) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(&buf))), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerWritesFields(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	l.With(Component("fanout"), Str("connection", "c1")).Info("live.push", Int("records", 3))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "live.push", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "fanout", lines[0]["component"])
	assert.Equal(t, "c1", lines[0]["connection"])
	assert.EqualValues(t, 3, lines[0]["records"])
}

func TestLevelGating(t *testing.T) {
	l, buf := captureLogger(WarnLevel, &JSONFormatter{})
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	assert.Len(t, decodeLines(t, buf), 1)

	l.SetLevel(DebugLevel)
	l.Debug("now kept")
	assert.Len(t, decodeLines(t, buf), 2)
	assert.Equal(t, DebugLevel, l.GetLevel())
}

func TestDerivedLoggerSharesLevel(t *testing.T) {
	l, buf := captureLogger(ErrorLevel, &JSONFormatter{})
	child := l.WithComponent("registry")
	child.Info("dropped")
	l.SetLevel(InfoLevel)
	child.Info("kept")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "registry", lines[0]["component"])
}

func TestWithErrorNil(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	l.WithError(nil).Info("ok")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	_, has := lines[0]["error"]
	assert.False(t, has)
}

func TestTextFormatterSortsKeys(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &TextFormatter{})
	l.Info("hello", Str("b", "2"), Str("a", "1"))
	out := buf.String()
	assert.Contains(t, out, "INFO hello a=1 b=2")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DebugLevel, "INFO": InfoLevel, "": InfoLevel, "warning": WarnLevel, "error": ErrorLevel} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestApplyConfigRedacts(t *testing.T) {
	l, err := ApplyConfig(Config{Level: "info", Format: "json", Outputs: []OutputConfig{{Type: "null"}}, RedactFields: []string{"token"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	bl := l.(*BaseLogger)
	bl.outputs = []Output{NewWriterOutput(&buf)}
	l.Info("auth", Str("token", "secret"), Str("principal", "u1"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
	assert.Equal(t, "u1", lines[0]["principal"])
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	_, err := ApplyConfig(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestSamplerKeepsInitialThenEveryNth(t *testing.T) {
	s := newSampler(2, 3)
	var kept int
	for i := 0; i < 8; i++ {
		if s.allow(0, "m") {
			kept++
		}
	}
	// 2 initial, then entries 2 and 5 of the remainder
	assert.Equal(t, 4, kept)
}

func TestRedirectStdLog(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	restore := RedirectStdLog(l)
	stdlog.Print("from stdlib")
	restore()

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "from stdlib", lines[0]["msg"])
	assert.Equal(t, "stdlog", lines[0]["component"])
}

func TestWithContextAddsConnectionAndRequestIDs(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	ctx := ContextWithRequestID(context.Background(), "r-1")
	ctx = ContextWithConnectionID(ctx, "c-1")
	l.WithContext(ctx).Info("subscribed")
	l.WithContext(context.Background()).Info("bare")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "r-1", lines[0][RequestIDKey])
	assert.Equal(t, "c-1", lines[0][ConnectionIDKey])
	assert.NotContains(t, lines[1], ConnectionIDKey)
}

func TestCredentialFieldsAlwaysRedacted(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	l.With(Str("authorization", "Bearer x")).Info("connect", Str("token", "jwt"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["authorization"])
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
}

func TestSlogGroupsFlattenToDottedKeys(t *testing.T) {
	l, buf := captureLogger(InfoLevel, &JSONFormatter{})
	l.(*BaseLogger).Slog().WithGroup("shard").Info("tail", "index", 3)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 3, lines[0]["shard.index"])
}
