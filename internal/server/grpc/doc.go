// Package grpcserver serves the standard grpc.health.v1 service so load
// balancers and orchestrators can probe a node. The status follows the
// storage health check.
//
// Example:
//
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
