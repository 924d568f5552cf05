package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyOrderingEntries(t *testing.T) {
	a := KeyLogEntry("stream", 1, 10)
	b := KeyLogEntry("stream", 1, 11)
	meta := KeyLogMeta("stream", 1)
	if !bytes.HasPrefix(a, meta[:len(meta)-len(metaSuffix)]) {
		t.Fatalf("entry key should share prefix with meta")
	}
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected seq 10 < seq 11")
	}
}

func TestShardsDoNotInterleave(t *testing.T) {
	last := KeyLogEntry("stream", 0, ^uint64(0))
	first := KeyLogEntry("stream", 1, 0)
	if bytes.Compare(last, first) >= 0 {
		t.Fatalf("shard 0 entries must sort before shard 1")
	}
}

func TestCursorKey(t *testing.T) {
	k := KeyCursor("s", "g", 7)
	if !bytes.HasPrefix(k, []byte("cursor/s/g/")) {
		t.Fatalf("unexpected cursor layout: %q", string(k))
	}
}
