package journal

import "context"

// SegmentManager is a block-addressable device that allocates, opens,
// writes, and reads fixed-size segments. It is an external collaborator:
// the journal never creates or destroys segments on its own, only through
// the SegmentManager and SegmentProvider it is given.
type SegmentManager interface {
	SegmentSize() int
	BlockSize() int
	Open(ctx context.Context, id SegmentID) (SegmentHandle, error)
}

// SegmentHandle is an open segment returned by SegmentManager.Open.
type SegmentHandle interface {
	SegmentID() SegmentID
	WriteCapacity() int
	Write(ctx context.Context, offset SegmentOffset, buf []byte) error
	ReadAt(ctx context.Context, offset SegmentOffset, n int) ([]byte, error)
	Close() error
}

// SegmentProvider names the next segment to use for journal writes and is
// notified when the journal is done with a segment. It is the policy
// component deciding segment reuse, garbage collection eligibility, and so
// on; the journal treats it as a non-owning handle (see spec.md §9) and
// never stores a back-reference into it.
type SegmentProvider interface {
	NextSegmentID(ctx context.Context) (SegmentID, error)
	CloseSegment(ctx context.Context, id SegmentID, lastSeq JournalSeq) error
}

// ScannedRecord is one (record_header, payload) pair produced by a Scanner
// while iterating a segment.
type ScannedRecord struct {
	Header   RecordHeader
	Offset   SegmentOffset
	Metadata []byte
	Data     []byte
}

// Scanner iterates record headers and payloads within a segment, starting
// just after the segment header. It is consumed, not implemented, by the
// journal core; Next returns (rec, true, nil) for each record, (zero,
// false, nil) at a clean end of segment, and (zero, false, err) on a
// decode failure — the replay driver is responsible for distinguishing a
// torn tail from a mid-segment failure.
type Scanner interface {
	Open(ctx context.Context, h SegmentHandle, header SegmentHeader, start SegmentOffset) (ScanCursor, error)
}

// ScanCursor walks the records of a single open segment.
type ScanCursor interface {
	Next(ctx context.Context) (ScannedRecord, bool, error)
	Close() error
}

// OrderingHandle provides scoped acquisition of the journal's two
// synchronous hand-off points for a single transaction: reservation
// (EnterDeviceSubmission) and commit acknowledgement (EnterFinalize). Both
// methods return a release function that must be called on every exit path
// -- including errors -- to avoid deadlocking other transactions sharing
// the handle's ordering domain.
type OrderingHandle interface {
	EnterDeviceSubmission(ctx context.Context) (release func(), err error)
	EnterFinalize(ctx context.Context) (release func(), err error)
}

// WritePipeline is the caller-supplied, type-erased abstraction the journal
// holds a non-owning reference to after SetWritePipeline. The journal never
// calls methods on it directly -- OrderingHandle values are passed
// per-SubmitRecord -- it is held only so the embedding system can retrieve
// it back via the journal (e.g. to hand a fresh OrderingHandle to a new
// transaction that only has a *Journal in scope).
type WritePipeline interface {
	NewOrderingHandle(ctx context.Context) (OrderingHandle, error)
}
