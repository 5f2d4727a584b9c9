package journal

import (
	"bytes"
	"testing"
)

func TestSegmentHeaderRoundTrip(t *testing.T) {
	h := SegmentHeader{
		SegmentSeq:   42,
		SegmentNonce: 0xdeadbeef,
		JournalTailHint: JournalSeq{
			SegmentSeq: 41,
			Addr:       PAddr{SegmentID: 7, Offset: 4096},
		},
	}
	buf := make([]byte, segmentHeaderSize)
	encodeSegmentHeader(buf, h)

	got, ok := decodeSegmentHeader(buf)
	if !ok {
		t.Fatalf("decodeSegmentHeader failed on freshly encoded buffer")
	}
	if got.SegmentSeq != h.SegmentSeq || got.SegmentNonce != h.SegmentNonce || got.JournalTailHint != h.JournalTailHint {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestSegmentHeaderRejectsCorruption(t *testing.T) {
	h := SegmentHeader{SegmentSeq: 1, SegmentNonce: 2}
	buf := make([]byte, segmentHeaderSize)
	encodeSegmentHeader(buf, h)
	buf[0] ^= 0xff

	if _, ok := decodeSegmentHeader(buf); ok {
		t.Fatalf("decodeSegmentHeader accepted a corrupted buffer")
	}
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	h := RecordHeader{
		MDLength:      128,
		DLength:       256,
		DeltasCount:   3,
		CommittedTo:   JournalSeq{SegmentSeq: 5, Addr: PAddr{SegmentID: 2, Offset: 64}},
		FullChecksum:  0x1122334455667788,
		MDataChecksum: 0x8877665544332211,
		SegmentNonce:  99,
	}
	buf := make([]byte, recordHeaderSize)
	encodeRecordHeader(buf, h)

	got, ok := decodeRecordHeader(buf)
	if !ok {
		t.Fatalf("decodeRecordHeader failed")
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDeltasRoundTrip(t *testing.T) {
	deltas := []DeltaInfo{
		DeltaInfo("first"),
		DeltaInfo(""),
		DeltaInfo(bytes.Repeat([]byte{0x42}, 300)),
	}
	buf := appendDeltas(nil, deltas)

	got, ok := decodeDeltas(buf, len(deltas))
	if !ok {
		t.Fatalf("decodeDeltas failed")
	}
	if len(got) != len(deltas) {
		t.Fatalf("got %d deltas, want %d", len(got), len(deltas))
	}
	for i := range deltas {
		if !bytes.Equal(got[i], deltas[i]) {
			t.Fatalf("delta %d mismatch: got %q, want %q", i, got[i], deltas[i])
		}
	}
}

func TestDecodeDeltasTruncated(t *testing.T) {
	buf := appendDeltas(nil, []DeltaInfo{DeltaInfo("hello")})
	if _, ok := decodeDeltas(buf[:len(buf)-2], 1); ok {
		t.Fatalf("decodeDeltas accepted a truncated buffer")
	}
}
