package journal

import "fmt"

// SegmentID is the opaque identifier of a physical segment, assigned by the
// SegmentProvider. The journal never interprets its value.
type SegmentID uint64

// SegmentSeq is a monotonically increasing number identifying a logical
// journal segment. It is bumped on every roll and is independent of
// SegmentID, which may be reused by the segment provider across rolls.
type SegmentSeq uint64

// SegmentNonce distinguishes reincarnations of the same SegmentID. It is
// drawn fresh whenever a segment is initialized, so a stale read against a
// reused SegmentID can be detected by nonce mismatch.
type SegmentNonce uint64

// SegmentOffset is a byte offset within a segment. Record write offsets are
// multiples of the segment manager's block size only when that block size
// divides recordHeaderSize (see RecordSize.Encoded).
type SegmentOffset uint64

// PAddr is a physical address: a segment plus a byte offset within it. It is
// immutable once issued.
type PAddr struct {
	SegmentID SegmentID
	Offset    SegmentOffset
}

func (a PAddr) String() string {
	return fmt.Sprintf("%d:%d", a.SegmentID, a.Offset)
}

// JournalSeq is an ordered journal position: the segment sequence number of
// the segment containing addr, plus the physical address itself. JournalSeq
// values are totally ordered first by SegmentSeq, then by Offset.
type JournalSeq struct {
	SegmentSeq SegmentSeq
	Addr       PAddr
}

func (s JournalSeq) String() string {
	return fmt.Sprintf("%d/%v", s.SegmentSeq, s.Addr)
}

// IsZero reports whether s is the zero JournalSeq, used as a sentinel for
// "nothing replayed yet".
func (s JournalSeq) IsZero() bool {
	return s == JournalSeq{}
}

// Compare orders two JournalSeq values. It returns a negative number if s
// precedes o, zero if they're equal, and a positive number if s follows o.
func (s JournalSeq) Compare(o JournalSeq) int {
	if s.SegmentSeq != o.SegmentSeq {
		if s.SegmentSeq < o.SegmentSeq {
			return -1
		}
		return 1
	}
	if s.Addr.Offset != o.Addr.Offset {
		if s.Addr.Offset < o.Addr.Offset {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether s strictly precedes o in journal order.
func (s JournalSeq) Less(o JournalSeq) bool {
	return s.Compare(o) < 0
}

// RecordSize is the block-aligned metadata and data lengths a record would
// occupy once encoded. It is computed before encoding so the submitter can
// decide whether a record fits the current batch or segment.
type RecordSize struct {
	MDLength int // metadata block length, block-aligned
	DLength  int // data block length, block-aligned
}

// Encoded returns the total byte length of a record header plus its
// metadata and data regions. The metadata and data regions are
// block-aligned; the header is a fixed recordHeaderSize bytes and is not
// padded, so the total is block-aligned only when the block size divides
// recordHeaderSize.
func (sz RecordSize) Encoded() int {
	return recordHeaderSize + sz.MDLength + sz.DLength
}

// DeltaInfo is an opaque payload understood only by the external delta
// applier. The journal carries it verbatim from submission to replay.
type DeltaInfo []byte

// Record is the atomic unit of submission: an ordered sequence of deltas
// plus optional raw data extents. A Record is owned by its submitter until
// it is consumed by RecordBatch.addPending / submitPendingFast.
type Record struct {
	Deltas      []DeltaInfo
	DataExtents [][]byte
}

// dataLen returns the total length of all data extents concatenated.
func (r Record) dataLen() int {
	n := 0
	for _, e := range r.DataExtents {
		n += len(e)
	}
	return n
}

// ComputeRecordSize computes the block-aligned RecordSize for r, given the
// block size of the segment manager that will store it.
func ComputeRecordSize(r Record, blockSize int) RecordSize {
	md := encodedDeltasLen(r.Deltas)
	return RecordSize{
		MDLength: alignUp(md, blockSize),
		DLength:  alignUp(r.dataLen(), blockSize),
	}
}

func alignUp(n, block int) int {
	if block <= 1 {
		return n
	}
	rem := n % block
	if rem == 0 {
		return n
	}
	return n + (block - rem)
}
