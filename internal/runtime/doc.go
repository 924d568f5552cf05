// Package runtime wires storage and config into a single-node logfan
// instance. It exposes Open/Close, basic health checks, and helpers to open
// the shard logs and work queues used by higher-level services.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	meta, _ := rt.EnsureStream(cfg.Stream.Name)
//	log, _ := rt.OpenLog(meta.Name, 0)
//	_, _ = log.Append(context.Background(), []eventlog.AppendRecord{{Payload: []byte(`{"identifierId":"job-1","log":"hi"}`)}})
package runtime
