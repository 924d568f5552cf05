package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func run(t *testing.T, args []string, stdin string, baseURL, grpcAddr string) (string, error) {
	t.Helper()
	root := NewRoot(func() string { return baseURL }, func() string { return grpcAddr })
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestPublishWrapsLines(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/logs", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"positions":[{"shard":0,"seq":1},{"shard":0,"seq":2}]}`))
	}))
	defer srv.Close()

	out, err := run(t, []string{"publish", "-i", "job-42", "--stream", "stderr"},
		"first line\n\n{\"identifierId\":\"x\",\"log\":\"as is\"}\n", srv.URL, "")
	require.NoError(t, err)
	assert.Contains(t, out, "published=2")
	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"identifierId": "job-42", "log": "first line", "stream": "stderr"}, got[0])
	assert.Equal(t, "as is", got[1]["log"])
}

func TestPublishReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"payload 0 not valid"}`))
	}))
	defer srv.Close()
	_, err := run(t, []string{"publish", "--data", "x"}, "", srv.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload 0 not valid")
}

func TestTailPrintsRecords(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sub map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","connectionId":"c1"}`))
		require.NoError(t, ws.ReadJSON(&sub))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack","ack":"OK","identifierId":["job-42"]}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"time":"t1","stream":"stdout","log":"from history"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`[{"time":"t2","stream":"stderr","log":"live one"},{"time":"t3","stream":"stdout","log":"live two"}]`))
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	out, err := run(t, []string{"tail", "-i", "job-42", "--token", "tok", "--limit", "3"}, "", srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "streamLogs", sub["action"])
	assert.Equal(t, []any{"job-42"}, sub["identifierId"])
	assert.Equal(t, "t1 [stdout] from history\nt2 [stderr] live one\nt3 [stdout] live two\n", out)
}

func TestTailSurfacesRejection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","status":400,"error":"identifierId required"}`))
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	_, err := run(t, []string{"tail", "-i", " , job"}, "", srv.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifierId required")

	_, err = run(t, []string{"tail"}, "", srv.URL, "")
	require.Error(t, err)
}

func TestHealthCommand(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	out, err := run(t, []string{"health"}, "", "", lis.Addr().String())
	require.NoError(t, err)
	assert.Contains(t, out, "status: SERVING")
}

func TestSplitIdentifiers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitIdentifiers([]string{"a, b", " ", "c"}))
	assert.Empty(t, splitIdentifiers(nil))
}
