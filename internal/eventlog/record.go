package eventlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/juju/errors"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload).
// The work queue stores its messages in the same format.

// ErrCorruptRecord is returned for truncated records or checksum mismatches.
const ErrCorruptRecord = errors.ConstError("corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(header, payload []byte) uint32 {
	return crc32.Update(crc32.Update(0, castagnoli, header), castagnoli, payload)
}

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, checksum(header, payload))
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord verifies and copies a record out of b.
func DecodeRecord(b []byte) (Decoded, error) {
	if len(b) < 1+4 {
		return Decoded{}, errors.Annotatef(ErrCorruptRecord, "%d bytes", len(b))
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || uint64(n)+hlen+4 > uint64(len(b)) {
		return Decoded{}, errors.Annotate(ErrCorruptRecord, "bad header length")
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	if checksum(header, payload) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Decoded{}, errors.Annotate(ErrCorruptRecord, "checksum mismatch")
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, nil
}
