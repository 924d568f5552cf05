// Package log is the structured logger every logfan component takes as a
// dependency. Components receive a Logger, derive a tagged child with
// WithComponent, and log dotted event names with typed fields:
//
//	l := log.NewLogger(log.WithFormatter(&log.TextFormatter{}))
//	live := l.WithComponent("fanout")
//	live.Info("live.push", log.Str("identifier", "build-42"), log.Int("records", 12))
//
// Request-scoped ids travel on the context. The HTTP gateway stores the
// request id and the socket controller stores the connection id; WithContext
// copies whichever are present onto the entry:
//
//	ctx = log.ContextWithConnectionID(ctx, cid)
//	l.WithContext(ctx).Debug("socket read", log.Err(err))
//
// Entries go through a slog handler into a Formatter (JSON or text) and one or
// more Outputs (console, rotating file, null). ApplyConfig builds the same
// pipeline from a Config with extra redacted keys and per-message sampling.
// Fields named token or authorization are always masked. RedirectStdLog
// captures libraries that log through the standard log package.
package log
