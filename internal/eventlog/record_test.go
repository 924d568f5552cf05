package eventlog

import (
	"testing"

	"github.com/juju/errors"
)

func TestRecordRoundtrip(t *testing.T) {
	header := []byte("h")
	payload := []byte("payload")
	dec, err := DecodeRecord(EncodeRecord(header, payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(dec.Header) != string(header) {
		t.Fatalf("header mismatch")
	}
	if string(dec.Payload) != string(payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestRecordEmptyHeader(t *testing.T) {
	dec, err := DecodeRecord(EncodeRecord(nil, []byte("p")))
	if err != nil || len(dec.Header) != 0 || string(dec.Payload) != "p" {
		t.Fatalf("unexpected decode %+v %v", dec, err)
	}
}

func TestRecordCRCFail(t *testing.T) {
	rec := EncodeRecord([]byte("x"), []byte("y"))
	rec[len(rec)-1] ^= 0xFF // corrupt one byte
	if _, err := DecodeRecord(rec); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected crc failure, got %v", err)
	}
}

func TestRecordTruncated(t *testing.T) {
	if _, err := DecodeRecord([]byte{5, 1}); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected corrupt record, got %v", err)
	}
}
