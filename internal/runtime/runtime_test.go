package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/logfan/internal/config"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
)

func openRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := Open(Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenCloseHealth(t *testing.T) {
	rt := openRuntime(t)
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestEnsureAndOpen(t *testing.T) {
	rt := openRuntime(t)
	meta, err := rt.EnsureStream("workloads")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if meta.Shards != cfgpkg.Default().Stream.Shards {
		t.Fatalf("unexpected shard count %d", meta.Shards)
	}
	if _, err := rt.OpenLog("workloads", 0); err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := rt.OpenQueue("control"); err != nil {
		t.Fatalf("open queue: %v", err)
	}
}

func TestOpenLogIsShared(t *testing.T) {
	rt := openRuntime(t)
	a, _ := rt.OpenLog("workloads", 1)
	b, _ := rt.OpenLog("workloads", 1)
	if a != b {
		t.Fatalf("expected the same log instance for one shard")
	}
	q1, _ := rt.OpenQueue("control")
	q2, _ := rt.OpenQueue("control")
	if q1 != q2 {
		t.Fatalf("expected the same queue instance")
	}
}
