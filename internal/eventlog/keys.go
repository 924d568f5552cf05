package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{stream}/{shard_be4}/m
// - log/{stream}/{shard_be4}/e/{seq_be8}
// - cursor/{stream}/{group}/{shard_be4}

var (
	sep        = byte('/')
	logPrefix  = []byte("log/")
	cursorPfx  = []byte("cursor/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func shardPrefix(stream string, shard uint32) []byte {
	k := make([]byte, 0, len(stream)+24)
	k = append(k, logPrefix...)
	k = append(k, stream...)
	k = append(k, sep)
	k = appendBE4(k, shard)
	return k
}

// KeyLogMeta builds the shard metadata key.
func KeyLogMeta(stream string, shard uint32) []byte {
	return append(shardPrefix(stream, shard), metaSuffix...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyLogEntry(stream string, shard uint32, seq uint64) []byte {
	k := append(shardPrefix(stream, shard), entrySeg...)
	return appendBE8(k, seq)
}

// KeyCursor builds the durable cursor key for a group and shard.
func KeyCursor(stream, group string, shard uint32) []byte {
	k := make([]byte, 0, len(stream)+len(group)+24)
	k = append(k, cursorPfx...)
	k = append(k, stream...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	k = appendBE4(k, shard)
	return k
}
