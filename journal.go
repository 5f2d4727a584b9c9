// Package journal implements a segmented, append-only write-ahead journal
// for a transactional object-storage engine. A journal is split into
// segments allocated by an external SegmentManager/SegmentProvider pair;
// the journal itself only ever appends to the segment currently open for
// writing and replays past segments in strict journal order on recovery.
//
// Intended use cases:
//
//   - Recording committed mutations ahead of applying them to primary
//     storage, so a crash can replay forward instead of losing work.
//   - Any append-only log whose storage (segment allocation, retention,
//     garbage collection) is owned by a separate subsystem.
//
// Features:
//
//   - Concurrent submission with automatic batching: multiple callers may
//     submit records at once; the submitter groups them into a single
//     device write up to io_depth_limit outstanding writes.
//   - Out-of-order write completion, strictly ordered commit
//     acknowledgement: device writes may land in any order, but callers
//     holding the same OrderingHandle observe commits in submission order.
//   - Self-healing replay: a torn tail in the newest segment (a write that
//     never fully landed before a crash) is treated as the end of the
//     journal, not a fatal error; a torn tail anywhere else is.
//
// See SPEC_FULL.md for the full module breakdown.
package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Journal is the entry point wiring jsm (segment writing), RecordSubmitter
// (concurrency control and batching), and Scanner (replay) together.
type Journal struct {
	debugName string
	logger    *slog.Logger
	now       func() time.Time
	verbose   bool
	metricsV  *Metrics
	cfg       Config

	scanner Scanner
	jsm     *jsm

	mu        sync.Mutex
	submitter *RecordSubmitter
	pipeline  WritePipeline
	opened    bool
	closed    bool
}

// New constructs a Journal bound to sm for segment storage and scanner for
// replay scanning. The journal does not open a segment or start accepting
// writes until OpenForWrite is called.
func New(sm SegmentManager, scanner Scanner, opts Options) *Journal {
	opts = opts.withDefaults()
	j := &Journal{
		debugName: opts.DebugName,
		logger:    opts.Logger,
		now:       opts.Now,
		verbose:   opts.Verbose,
		metricsV:  opts.Metrics,
		cfg:       opts.Config,
		scanner:   scanner,
	}
	j.jsm = newJSM(j, sm)
	return j
}

func (j *Journal) metrics() *Metrics { return j.metricsV }

// Now returns the journal's injectable clock, following the teacher's own
// Now-field-for-testability convention. Defaults to time.Now.
func (j *Journal) Now() time.Time { return j.now() }

// String returns the journal's debug name, for use in logs owned by
// embedding code.
func (j *Journal) String() string { return j.debugName }

// SetSegmentProvider installs the policy component that names the next
// segment to roll into and is notified when a segment is retired. It must
// be called before OpenForWrite.
func (j *Journal) SetSegmentProvider(p SegmentProvider) {
	j.jsm.setProvider(p)
}

// SetWritePipeline stores a non-owning reference to pipeline. The journal
// never calls methods on it; it is held purely so embedding code can
// retrieve it back via the *Journal when only a *Journal is in scope
// (spec.md §9).
func (j *Journal) SetWritePipeline(p WritePipeline) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pipeline = p
}

// WritePipeline returns the pipeline installed by SetWritePipeline, or nil.
func (j *Journal) WritePipeline() WritePipeline {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pipeline
}

// Replay scans segments in segment_seq order and invokes handler for every
// valid record, in strict journal order, awaiting each call before
// continuing. Replay must be called before OpenForWrite so jsm can resume
// from the correct segment_seq. It returns the JournalSeq immediately past
// the last record delivered.
func (j *Journal) Replay(ctx context.Context, segments []ReplaySegment, handler DeltaHandler) (JournalSeq, error) {
	last, err := Replay(ctx, j.scanner, j.jsm.sm, segments, handler)
	if err != nil {
		if errors.Is(err, ErrTornSegment) {
			j.metrics().ReplayTornTails.Inc()
		}
		return JournalSeq{}, err
	}
	if !last.IsZero() {
		j.jsm.SetSegmentSeq(last.SegmentSeq)
	}
	return last, nil
}

// OpenForWrite rolls into a fresh segment and starts the submitter actor.
// Idempotent: calling it again after a successful open is a no-op.
func (j *Journal) OpenForWrite(ctx context.Context) (JournalSeq, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return JournalSeq{}, ErrClosed
	}
	if j.opened {
		return j.jsm.GetCommittedTo(), nil
	}

	seq, err := j.jsm.Open(ctx)
	if err != nil {
		return JournalSeq{}, err
	}
	j.submitter = newRecordSubmitter(j, j.jsm, j.cfg)
	j.opened = true
	return seq, nil
}

// SubmitRecord hands record to the RecordSubmitter, returning the physical
// address and journal position it committed at. handle may be nil if the
// caller needs no cross-transaction ordering guarantee.
func (j *Journal) SubmitRecord(ctx context.Context, record Record, handle OrderingHandle) (PAddr, JournalSeq, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return PAddr{}, JournalSeq{}, ErrClosed
	}
	if !j.opened {
		j.mu.Unlock()
		return PAddr{}, JournalSeq{}, ErrNotOpen
	}
	s := j.submitter
	j.mu.Unlock()

	res, seq, err := s.Submit(ctx, record, handle)
	if err == nil {
		j.metrics().RecordsSubmitted.Inc()
	}
	return res, seq, err
}

// GetSegmentSeq returns the segment_seq of the segment currently being
// written.
func (j *Journal) GetSegmentSeq() SegmentSeq {
	return j.jsm.GetSegmentSeq()
}

// GetCommittedTo returns the highest JournalSeq known to be durably
// committed.
func (j *Journal) GetCommittedTo() JournalSeq {
	return j.jsm.GetCommittedTo()
}

// Close drains all outstanding writes, then closes the current segment.
// SubmitRecord calls made after Close returns fail with ErrClosed; calls
// already admitted when Close is invoked are allowed to finish (spec.md
// §9's shutdown open question is resolved in favor of draining, not
// abandoning, in-flight writes).
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	s := j.submitter
	j.mu.Unlock()

	if s == nil {
		return j.jsm.Close()
	}
	return s.Close()
}

// Summary returns a point-in-time snapshot of journal state, suitable for
// diagnostics and status endpoints.
func (j *Journal) Summary() Summary {
	j.mu.Lock()
	opened, closed := j.opened, j.closed
	s := j.submitter
	j.mu.Unlock()

	sum := Summary{
		DebugName:   j.debugName,
		SegmentSeq:  j.jsm.GetSegmentSeq(),
		CommittedTo: j.jsm.GetCommittedTo(),
		Opened:      opened,
		Closed:      closed,
	}
	if s != nil {
		sum.OutstandingIO, sum.WaitQueueDepth = s.Stats()
	}
	return sum
}
