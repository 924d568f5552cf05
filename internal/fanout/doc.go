// Package fanout delivers log records to subscribed connections along two
// paths that share one dedup cache and one Deliverer:
//
//   - Backfiller replays the historical log, shard by shard, to a single
//     connection after it subscribes.
//   - Engine.HandleBatch pushes each live batch to every connection
//     subscribed to the records' identifiers.
//
// Because both paths check the same per-connection fingerprint set before
// pushing, a record that reaches a connection through both is delivered
// once. A push that reports ErrGone purges the connection everywhere.
package fanout
