// Package logstream is the sharded historical log records are published to
// and replayed from. Records are routed to a shard by a CRC-32 of their
// canonical first identifier; the shard count is persisted on creation.
//
// A Stream serves backfill cursors to the fan-out engine, and a Tailer
// follows every shard and feeds newly appended records to the live engine.
package logstream
