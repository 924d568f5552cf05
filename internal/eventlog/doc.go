// Package eventlog implements the append-only, sharded log that holds every
// published log line.
//
// # Overview
//
// Each stream is split into shards persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - log/{stream}/{shard_be4}/m           (shard metadata: lastSeq)
//   - log/{stream}/{shard_be4}/e/{seq_be8} (entries)
//   - cursor/{stream}/{group}/{shard_be4}  (durable group cursors)
//
// Records are stored as: varint headerLen | header | payload | crc32c(header|payload).
//
// API surface (internal)
//
//	l, _ := OpenLog(db, stream, shard)
//	// Append a batch atomically; returns assigned seq numbers
//	seqs, _ := l.Append(ctx, []AppendRecord{{Header: h, Payload: p}})
//
//	// Read forward/reverse with an optional start token and limit
//	items, next, _ := l.Read(ReadOptions{Start: TokenFromSeq(seqs[0]), Limit: 100})
//	_ = next // resume position, zero once exhausted
//
//	// Blocking wait/notify
//	woke := l.WaitForAppend(200 * time.Millisecond)
//	_ = woke
//
//	// Durable consumer cursor commits (idempotent, no regression)
//	_ = l.CommitCursor("live", TokenFromSeq(seqs[len(seqs)-1]))
package eventlog
