// Package pebblestore owns the single Pebble database a logfan node writes
// to. Every durable structure shares it, separated by key prefix:
//
//	log/<stream>/<shard>/e/<seq>       log shards and the control channel
//	cursor/<stream>/<group>/<shard>    committed read positions
//	streammeta/<stream>                shard descriptors
//	reg/conn/<cid>                     subscriber connections
//	reg/first/<identifier>\x00<cid>     fast-path index
//
// Open applies the fsync policy (always, interval or never) and reports
// write and batch latency to a Metrics sink. Multi-key updates such as a
// connection together with its index rows go through NewBatch and
// CommitBatch so readers never see half of them.
package pebblestore
