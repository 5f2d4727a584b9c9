package journal

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// segmentHeaderSize is the on-disk, block-padded size of a SegmentHeader.
// Callers round it up to the segment manager's actual block size before
// reserving space for it at the start of a segment.
const segmentHeaderSize = 64

// SegmentHeader is written as the first block of every segment.
type SegmentHeader struct {
	SegmentSeq      SegmentSeq
	SegmentNonce    SegmentNonce
	JournalTailHint JournalSeq
	Checksum        uint64
}

type segmentHeaderWire struct {
	SegmentSeq      uint64
	SegmentNonce    uint64
	TailSegmentSeq  uint64
	TailSegmentID   uint64
	TailOffset      uint64
	Checksum        uint64
}

func encodeSegmentHeader(buf []byte, h SegmentHeader) {
	w := segmentHeaderWire{
		SegmentSeq:     uint64(h.SegmentSeq),
		SegmentNonce:   uint64(h.SegmentNonce),
		TailSegmentSeq: uint64(h.JournalTailHint.SegmentSeq),
		TailSegmentID:  uint64(h.JournalTailHint.Addr.SegmentID),
		TailOffset:     uint64(h.JournalTailHint.Addr.Offset),
	}
	n, err := binary.Encode(buf, binary.LittleEndian, w)
	if err != nil {
		panic(err)
	}
	var hash xxhash.Digest
	hash.Reset()
	hash.Write(buf[:n-8])
	binary.LittleEndian.PutUint64(buf[n-8:n], hash.Sum64())
}

func decodeSegmentHeader(buf []byte) (SegmentHeader, bool) {
	var w segmentHeaderWire
	n, err := binary.Decode(buf, binary.LittleEndian, &w)
	if err != nil {
		return SegmentHeader{}, false
	}
	var hash xxhash.Digest
	hash.Reset()
	hash.Write(buf[:n-8])
	if hash.Sum64() != w.Checksum {
		return SegmentHeader{}, false
	}
	return SegmentHeader{
		SegmentSeq:   SegmentSeq(w.SegmentSeq),
		SegmentNonce: SegmentNonce(w.SegmentNonce),
		JournalTailHint: JournalSeq{
			SegmentSeq: SegmentSeq(w.TailSegmentSeq),
			Addr: PAddr{
				SegmentID: SegmentID(w.TailSegmentID),
				Offset:    SegmentOffset(w.TailOffset),
			},
		},
	}, true
}

// recordHeaderSize is the on-disk size of a RecordHeader, before the
// mdlength+dlength bytes that follow it. The header is not padded to a
// block boundary; only the metadata and data lengths are block-aligned.
const recordHeaderSize = 64

// RecordHeader is prepended to every encoded record.
type RecordHeader struct {
	MDLength      uint32
	DLength       uint32
	DeltasCount   uint32
	CommittedTo   JournalSeq
	FullChecksum  uint64
	MDataChecksum uint64
	SegmentNonce  SegmentNonce
}

type recordHeaderWire struct {
	MDLength        uint32
	DLength         uint32
	DeltasCount     uint32
	Pad             uint32
	CommittedSegSeq uint64
	CommittedSegID  uint64
	CommittedOffset uint64
	FullChecksum    uint64
	MDataChecksum   uint64
	SegmentNonce    uint64
}

func encodeRecordHeader(buf []byte, h RecordHeader) {
	w := recordHeaderWire{
		MDLength:        h.MDLength,
		DLength:         h.DLength,
		DeltasCount:     h.DeltasCount,
		CommittedSegSeq: uint64(h.CommittedTo.SegmentSeq),
		CommittedSegID:  uint64(h.CommittedTo.Addr.SegmentID),
		CommittedOffset: uint64(h.CommittedTo.Addr.Offset),
		FullChecksum:    h.FullChecksum,
		MDataChecksum:   h.MDataChecksum,
		SegmentNonce:    uint64(h.SegmentNonce),
	}
	n, err := binary.Encode(buf, binary.LittleEndian, w)
	if err != nil {
		panic(err)
	}
	if n != recordHeaderSize {
		panic("journal: internal record header size mismatch")
	}
}

func decodeRecordHeader(buf []byte) (RecordHeader, bool) {
	var w recordHeaderWire
	n, err := binary.Decode(buf, binary.LittleEndian, &w)
	if err != nil || n != recordHeaderSize {
		return RecordHeader{}, false
	}
	return RecordHeader{
		MDLength:    w.MDLength,
		DLength:     w.DLength,
		DeltasCount: w.DeltasCount,
		CommittedTo: JournalSeq{
			SegmentSeq: SegmentSeq(w.CommittedSegSeq),
			Addr: PAddr{
				SegmentID: SegmentID(w.CommittedSegID),
				Offset:    SegmentOffset(w.CommittedOffset),
			},
		},
		FullChecksum:  w.FullChecksum,
		MDataChecksum: w.MDataChecksum,
		SegmentNonce:  SegmentNonce(w.SegmentNonce),
	}, true
}

// encodedDeltasLen returns the byte length of the length-prefixed delta
// encoding produced by appendDeltas, before any block-alignment padding.
func encodedDeltasLen(deltas []DeltaInfo) int {
	n := 0
	for _, d := range deltas {
		n += uvarintLen(uint64(len(d))) + len(d)
	}
	return n
}

func appendDeltas(buf []byte, deltas []DeltaInfo) []byte {
	for _, d := range deltas {
		buf = binary.AppendUvarint(buf, uint64(len(d)))
		buf = append(buf, d...)
	}
	return buf
}

// decodeDeltas parses count length-prefixed deltas out of buf. It returns
// false if buf is truncated or malformed, which the replay driver treats as
// a torn tail (at the end of a segment) or a fatal error (mid-segment).
func decodeDeltas(buf []byte, count int) ([]DeltaInfo, bool) {
	deltas := make([]DeltaInfo, 0, count)
	for i := 0; i < count; i++ {
		n, read := binary.Uvarint(buf)
		if read <= 0 || uint64(len(buf)-read) < n {
			return nil, false
		}
		buf = buf[read:]
		deltas = append(deltas, DeltaInfo(buf[:n]))
		buf = buf[n:]
	}
	return deltas, true
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
