package registry

import (
	"bytes"

	"github.com/rzbill/logfan/internal/logrecord"
)

// Key layout:
//
//	reg/conn/{connectionId}                        -> Connection JSON
//	reg/first/{canonical first identifier}\x00{id} -> empty
var (
	connPrefix  = []byte("reg/conn/")
	firstPrefix = []byte("reg/first/")
)

const indexSep = 0x00

func connKey(cid string) []byte {
	k := make([]byte, 0, len(connPrefix)+len(cid))
	k = append(k, connPrefix...)
	return append(k, cid...)
}

// firstIndexPrefix returns the prefix covering every connection whose first
// identifier canonicalizes to id.
func firstIndexPrefix(id string) []byte {
	c := logrecord.Canonical(id)
	k := make([]byte, 0, len(firstPrefix)+len(c)+1)
	k = append(k, firstPrefix...)
	k = append(k, c...)
	return append(k, indexSep)
}

func firstIndexKey(id, cid string) []byte {
	return append(firstIndexPrefix(id), cid...)
}

// connFromIndexKey extracts the connection id from an index key.
func connFromIndexKey(k []byte) (string, bool) {
	i := bytes.IndexByte(k[len(firstPrefix):], indexSep)
	if i < 0 {
		return "", false
	}
	return string(k[len(firstPrefix)+i+1:]), true
}
