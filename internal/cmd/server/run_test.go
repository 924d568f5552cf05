package serverrun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/rzbill/logfan/internal/config"
	pebblestore "github.com/rzbill/logfan/internal/storage/pebble"
	logpkg "github.com/rzbill/logfan/pkg/log"
)

func testConfig() cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Stream.Shards = 1
	cfg.Backfill.PageDelayMs = 0
	cfg.Live.PollIntervalMs = 10
	cfg.Control.PollIntervalMs = 10
	cfg.Auth.Mode = "none"
	return cfg
}

type testNode struct {
	*Node
	ts     *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

func startNode(t *testing.T, cfg cfgpkg.Config) *testNode {
	t.Helper()
	n, err := Build(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Logger:  logpkg.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNode{Node: n, ts: httptest.NewServer(n.HTTP.Handler()), cancel: cancel, done: make(chan error, 1)}
	go func() { tn.done <- n.Run(ctx) }()
	t.Cleanup(func() {
		tn.ts.Close()
		cancel()
		select {
		case err := <-tn.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("node did not stop")
		}
		_ = n.Close()
	})
	return tn
}

func (tn *testNode) publish(t *testing.T, body string) {
	t.Helper()
	resp, err := http.Post(tn.ts.URL+"/v1/logs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func (tn *testNode) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(tn.ts.URL, "http")+"/v1/connect", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// frames reads until want returns true for the collected frames or the
// deadline passes.
func frames(t *testing.T, ws *websocket.Conn, want func([]json.RawMessage) bool) []json.RawMessage {
	t.Helper()
	var got []json.RawMessage
	deadline := time.Now().Add(5 * time.Second)
	for !want(got) {
		require.NoError(t, ws.SetReadDeadline(deadline))
		_, b, err := ws.ReadMessage()
		require.NoError(t, err, "frames so far: %s", got)
		got = append(got, b)
	}
	return got
}

// logsOf extracts the log text of every delivered record, in order. Backfill
// frames are objects and live frames are arrays; control frames are skipped.
func logsOf(t *testing.T, fs []json.RawMessage) (backfill, live []string) {
	t.Helper()
	for _, f := range fs {
		if len(f) > 0 && f[0] == '[' {
			var recs []map[string]any
			require.NoError(t, json.Unmarshal(f, &recs))
			for _, r := range recs {
				live = append(live, r["log"].(string))
			}
			continue
		}
		var obj map[string]any
		require.NoError(t, json.Unmarshal(f, &obj))
		if _, ok := obj["type"]; ok {
			continue
		}
		backfill = append(backfill, obj["log"].(string))
	}
	return backfill, live
}

func countLogs(t *testing.T, n int) func([]json.RawMessage) bool {
	return func(fs []json.RawMessage) bool {
		b, l := logsOf(t, fs)
		return len(b)+len(l) >= n
	}
}

func TestBackfillThenLiveEndToEnd(t *testing.T) {
	tn := startNode(t, testConfig())
	tn.publish(t, `[{"identifierId":"job-42","time":"t1","log":"job-42 - compiling"},{"identifierId":"job-9","log":"other"}]`)

	ws := tn.connect(t)
	frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })
	require.NoError(t, ws.WriteJSON(map[string]any{"action": "streamLogs", "identifierId": "JOB-42"}))

	fs := frames(t, ws, countLogs(t, 1))
	backfill, live := logsOf(t, fs)
	assert.Equal(t, []string{"compiling"}, append(backfill, live...))

	tn.publish(t, `{"identifierId":["x","job-42"],"stream":"stderr","log":"[step 2] linking"}`)
	tn.publish(t, `{"identifierId":"job-42","log":"NVIDIA driver banner"}`)
	fs = frames(t, ws, countLogs(t, 1))
	backfill, live = logsOf(t, fs)
	assert.Empty(t, backfill)
	assert.Equal(t, []string{"linking"}, live)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tn := startNode(t, testConfig())
	ws := tn.connect(t)
	frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })

	require.NoError(t, ws.WriteJSON(map[string]any{"action": "subscribe", "identifierId": []string{"a"}}))
	frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })
	require.NoError(t, ws.WriteJSON(map[string]any{"action": "unsubscribe"}))
	fs := frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })
	assert.Contains(t, string(fs[0]), `"stopped"`)

	tn.publish(t, `{"identifierId":"a","log":"after stop"}`)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}

func TestDisconnectPurgesRegistry(t *testing.T) {
	tn := startNode(t, testConfig())
	ws := tn.connect(t)
	frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })
	require.NoError(t, ws.WriteJSON(map[string]any{"action": "subscribe", "identifierId": "a"}))
	frames(t, ws, func(fs []json.RawMessage) bool { return len(fs) == 1 })
	require.NoError(t, ws.Close())

	ctx := context.Background()
	require.Eventually(t, func() bool {
		subs, err := tn.Registry.ResolveSubscribers(ctx, "a")
		return err == nil && len(subs) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Publishing for a departed subscriber is harmless.
	tn.publish(t, `{"identifierId":"a","log":"nobody listens"}`)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "jwt"
	_, err := Build(Options{DataDir: t.TempDir(), Config: cfg, Logger: logpkg.Nop()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{
		DataDir:  t.TempDir(),
		GRPCAddr: "127.0.0.1:0",
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   testConfig(),
		Logger:   logpkg.Nop(),
	})
	assert.NoError(t, err)
}
