// Package workqueue implements a durable one-of-N task queue with lease-based
// delivery. The control channel uses it to hand subscription changes from the
// gateway to the backfill workers.
//
// Each message is delivered to exactly one consumer in a group through:
//
// - Lease-based ownership: messages are leased for a duration and extended by heartbeat
// - Priority ordering: lower priority values are dequeued first
// - Delayed delivery: messages can be held until a specific time
// - Retry & DLQ: failed messages retry after a delay or move to a dead-letter list
// - Reclaim: a sweeper returns expired leases to availability
//
// # Keyspace
//
// All keys are prefixed with wq/{name}/:
//
//	meta                       - lastSeq and available count
//	msg/{seq}                  - message data
//	priority_idx/{priority}/{id}
//	delay_idx/{ready_at_ms}/{id}
//	lease/{group}/{id}         - expires_at_ms, attempts
//	lease_idx/{expires_ms}/{id}
//	dlq/{group}/{id}
//
// # At-Least-Once Semantics
//
// Messages are delivered at-least-once. Duplicates can occur if a consumer
// crashes after processing but before Complete, or if a lease expires while
// processing. Consumers should be idempotent.
package workqueue
