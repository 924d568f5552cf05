package log

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

const redacted = "[REDACTED]"

// alwaysRedacted names fields that carry subscriber credentials. They are
// masked regardless of Config.RedactFields.
var alwaysRedacted = []string{"token", "authorization"}

// bridgeHandler feeds slog records into the logger's formatter and outputs.
type bridgeHandler struct {
	logger  *BaseLogger
	attrs   []slog.Attr
	prefix  string
	redact  map[string]struct{}
	sampler *sampler
}

func newBridgeHandler(logger *BaseLogger) *bridgeHandler {
	h := &bridgeHandler{logger: logger, redact: map[string]struct{}{}}
	for _, k := range alwaysRedacted {
		h.redact[k] = struct{}{}
	}
	return h
}

func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.enabled(fromSlogLevel(level))
}

func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	if h.sampler != nil && !h.sampler.allow(r.Level, r.Message) {
		return nil
	}
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		h.put(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(fields, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})

	entry := &Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    callerOf(r.PC),
	}
	formatted, err := h.logger.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range h.logger.outputs {
		_ = out.Write(entry, formatted)
	}
	return nil
}

func (h *bridgeHandler) put(fields Fields, a slog.Attr) {
	if _, ok := h.redact[a.Key]; ok {
		fields[a.Key] = redacted
		return
	}
	fields[a.Key] = a.Value.Any()
}

func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

// WithGroup flattens groups into dotted key prefixes.
func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *bridgeHandler) withRedactions(keys []string) *bridgeHandler {
	if len(keys) == 0 {
		return h
	}
	nh := *h
	nh.redact = make(map[string]struct{}, len(h.redact)+len(keys))
	for k := range h.redact {
		nh.redact[k] = struct{}{}
	}
	for _, k := range keys {
		nh.redact[k] = struct{}{}
	}
	return &nh
}

func (h *bridgeHandler) withSampler(initial, thereafter int) *bridgeHandler {
	if thereafter <= 0 {
		return h
	}
	nh := *h
	nh.sampler = newSampler(initial, thereafter)
	return &nh
}

// callerOf resolves pc to file:line, walking the stack when the record
// carries no pc.
func callerOf(pc uintptr) string {
	if pc == 0 {
		if _, file, line, ok := runtime.Caller(6); ok {
			return file + ":" + strconv.Itoa(line)
		}
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return frame.File + ":" + strconv.Itoa(frame.Line)
}

// sampler keeps the first initial entries per (level, message) and every
// thereafter-th one after that.
type sampler struct {
	mu         sync.Mutex
	initial    uint64
	thereafter uint64
	seen       map[string]uint64
}

func newSampler(initial, thereafter int) *sampler {
	s := &sampler{thereafter: 1, seen: map[string]uint64{}}
	if initial > 0 {
		s.initial = uint64(initial)
	}
	if thereafter > 0 {
		s.thereafter = uint64(thereafter)
	}
	return s
}

func (s *sampler) allow(level slog.Level, message string) bool {
	key := level.String() + "|" + message
	s.mu.Lock()
	n := s.seen[key]
	s.seen[key] = n + 1
	s.mu.Unlock()
	if n < s.initial {
		return true
	}
	return (n-s.initial)%s.thereafter == 0
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel, FatalLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level < slog.LevelInfo:
		return DebugLevel
	case level < slog.LevelWarn:
		return InfoLevel
	case level < slog.LevelError:
		return WarnLevel
	}
	return ErrorLevel
}

func attrsFromMap(m Fields) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func attrsFromFieldSlice(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

// argsToAttrs pairs up k1, v1, k2, v2. A non-string key or a trailing value
// is kept under a positional "argN" key.
func argsToAttrs(args []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			attrs = append(attrs, slog.Any(fmt.Sprintf("arg%d", i), args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
