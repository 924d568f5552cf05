// Package httpserver is the subscriber-facing gateway: a websocket endpoint
// that registers connections and carries pushed records, plus JSON
// endpoints for ingestion, inspection, health and metrics.
//
// Example:
//
//	hub := controllers.NewHub(10*time.Second, logger)
//	s := httpserver.New(controllers.Deps{Lifecycle: lc, Hub: hub, Verifier: v, Publisher: stream}, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
