package workqueue

import (
	"bytes"
	"testing"
)

func TestMsgKeyOrdering(t *testing.T) {
	a := MsgKey("q", 10)
	b := MsgKey("q", 11)
	c := MsgKey("q", 256)
	if bytes.Compare(a, b) >= 0 || bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected seq ordering")
	}
}

func TestLeaseIdxOrdering(t *testing.T) {
	id := [16]byte{1}
	a := LeaseIdxKey("q", 100, id)
	b := LeaseIdxKey("q", 200, id)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected expiry ordering")
	}
}

func TestPrioKeyOrdering(t *testing.T) {
	a := PrioKey("q", 1, 100)
	b := PrioKey("q", 2, 50)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected lower priority to sort first")
	}
}

func TestMsgIDRoundtrip(t *testing.T) {
	id := seqToMsgID(42)
	if msgIDToSeq(id[:]) != 42 {
		t.Fatalf("id roundtrip")
	}
}
