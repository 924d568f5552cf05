package workqueue

import (
	"encoding/binary"
)

// Keyspace for one queue, all under wq/{name}/:
//
//	meta                       lastSeq(8B) | available(4B)
//	msg/{seq_be8}              message record
//	priority_idx/{prio}/{id}   available messages, lower priority first
//	delay_idx/{ready_ms}/{id}  prio(4B) | seq(8B)
//	lease/{group}/{id}         expiresMs(8B) | attempts(4B)
//	lease_idx/{expires}/{id}   value: group
//	dlq/{group}/{id}           message record
const (
	prefixMsg      = "msg/"
	prefixPriority = "priority_idx/"
	prefixDelay    = "delay_idx/"
	prefixLease    = "lease/"
	prefixLeaseIdx = "lease_idx/"
	prefixDLQ      = "dlq/"
)

func queuePrefix(name string) string { return "wq/" + name + "/" }

func seqToMsgID(seq uint64) [16]byte {
	var id [16]byte
	binary.BigEndian.PutUint64(id[8:], seq)
	return id
}

func msgIDToSeq(id []byte) uint64 {
	if len(id) < 16 {
		return 0
	}
	return binary.BigEndian.Uint64(id[8:16])
}

// MetaKey returns the queue metadata key.
func MetaKey(name string) []byte {
	return []byte(queuePrefix(name) + "meta")
}

// MsgKey returns the message key for seq.
func MsgKey(name string, seq uint64) []byte {
	prefix := queuePrefix(name) + prefixMsg
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// PrioKey returns the priority index key. Lower priority values are dequeued first.
func PrioKey(name string, priority uint32, seq uint64) []byte {
	prefix := PrioPrefix(name)
	id := seqToMsgID(seq)
	key := make([]byte, len(prefix)+4+16)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], priority)
	copy(key[len(prefix)+4:], id[:])
	return key
}

func PrioPrefix(name string) []byte { return []byte(queuePrefix(name) + prefixPriority) }

// DelayKey returns the delay index key.
func DelayKey(name string, readyAtMs uint64, id [16]byte) []byte {
	prefix := DelayPrefix(name)
	key := make([]byte, len(prefix)+8+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], readyAtMs)
	copy(key[len(prefix)+8:], id[:])
	return key
}

func DelayPrefix(name string) []byte { return []byte(queuePrefix(name) + prefixDelay) }

// LeaseKey returns the lease record key.
func LeaseKey(name, group string, id [16]byte) []byte {
	prefix := queuePrefix(name) + prefixLease + group + "/"
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

// LeaseIdxKey returns the lease expiry index key.
func LeaseIdxKey(name string, expiresMs uint64, id [16]byte) []byte {
	prefix := LeaseIdxPrefix(name)
	key := make([]byte, len(prefix)+8+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], expiresMs)
	copy(key[len(prefix)+8:], id[:])
	return key
}

func LeaseIdxPrefix(name string) []byte { return []byte(queuePrefix(name) + prefixLeaseIdx) }

// DLQKey returns the dead-letter key for a message.
func DLQKey(name, group string, id [16]byte) []byte {
	prefix := DLQPrefix(name, group)
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

func DLQPrefix(name, group string) []byte {
	return []byte(queuePrefix(name) + prefixDLQ + group + "/")
}
