// Package client provides the `logfan` command-line client.
//
// The CLI publishes log lines over the HTTP API, tails identifiers over the
// websocket endpoint and probes the gRPC health service. It is primarily
// intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to LOGFAN_HTTP or http://127.0.0.1:8080. The gRPC address is read
// from LOGFAN_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	logfan publish -i job-42 --data 'job-42 - compiling'
//	kubectl logs pod/builder | logfan publish -i job-42 --stream stdout
//
//	logfan tail -i job-42 --limit 10
//	logfan tail -i job-42,job-43 --mode raw --filter 'stream == "stderr"' --json
//
//	logfan connections
//	logfan health
//
// Notes
//
//   - tail reads the token from --token or LOGFAN_TOKEN.
//   - publish sends lines that are already JSON objects unchanged.
package client
