package journal

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// jsm is the JournalSegmentManager: the append-only writer to the current
// segment and the manager of segment transitions. Once the submitter is
// running, all mutating methods are called only from the RecordSubmitter's
// single actor goroutine; Open and SetSegmentSeq are called by Journal
// before the submitter exists, and Close by Journal when it never started.
// Write's
// returned pendingWrite may be awaited from other goroutines, but the
// offset reservation itself is never concurrent (spec.md §4.1, §5).
//
// segmentSeq and committedTo are additionally mirrored into
// segmentSeqStat/committedToStat on every actor-side update, the same
// pattern RecordSubmitter uses for statOutstanding/statWaiting: Journal's
// public GetSegmentSeq/GetCommittedTo/Summary accessors are called from
// arbitrary goroutines and must never read the plain fields directly.
type jsm struct {
	owner    *Journal
	sm       SegmentManager
	provider SegmentProvider

	blockSize   int
	segmentSize int
	headerSize  SegmentOffset // block-aligned segment header reservation

	current    SegmentHandle
	segmentSeq SegmentSeq
	nonce      SegmentNonce
	writtenTo  SegmentOffset

	committedTo JournalSeq
	closed      bool

	segmentSeqStat  atomic.Uint64
	committedToStat atomic.Pointer[JournalSeq]
}

func newJSM(owner *Journal, sm SegmentManager) *jsm {
	bs := sm.BlockSize()
	return &jsm{
		owner:       owner,
		sm:          sm,
		blockSize:   bs,
		segmentSize: sm.SegmentSize(),
		headerSize:  SegmentOffset(alignUp(segmentHeaderSize, bs)),
	}
}

func (m *jsm) setProvider(p SegmentProvider) { m.provider = p }

func (m *jsm) GetBlockSize() int { return m.blockSize }
func (m *jsm) GetNonce() SegmentNonce { return m.nonce }

// GetSegmentSeq and GetCommittedTo are safe to call from any goroutine: they
// read the atomic mirrors rather than the actor-owned fields directly.
func (m *jsm) GetSegmentSeq() SegmentSeq {
	return SegmentSeq(m.segmentSeqStat.Load())
}

func (m *jsm) GetCommittedTo() JournalSeq {
	if p := m.committedToStat.Load(); p != nil {
		return *p
	}
	return JournalSeq{}
}

// GetMaxWriteLength returns the usable bytes per segment: segment size
// minus the block-aligned header reservation.
func (m *jsm) GetMaxWriteLength() int {
	return m.segmentSize - int(m.headerSize)
}

func (m *jsm) NeedsRoll(length int) bool {
	if m.current == nil {
		return true
	}
	return int(m.writtenTo)+length > m.segmentSize
}

// SetSegmentSeq configures the segment sequence a subsequent Open/roll
// should continue from. Called by the caller after Replay, before
// OpenForWrite (spec.md §4.4 step 3).
func (m *jsm) SetSegmentSeq(seq SegmentSeq) {
	m.segmentSeq = seq
	m.segmentSeqStat.Store(uint64(seq))
}

// Open rolls into the first segment (or the segment following replay) and
// returns the position of the first record-writable byte.
func (m *jsm) Open(ctx context.Context) (JournalSeq, error) {
	return m.roll(ctx)
}

// Roll closes the current segment (if any), allocates the next one from the
// segment provider, writes its header, and resets writtenTo. On failure the
// current segment is considered closed; subsequent writes fail until a
// successful roll.
func (m *jsm) Roll(ctx context.Context) (JournalSeq, error) {
	return m.roll(ctx)
}

func (m *jsm) roll(ctx context.Context) (JournalSeq, error) {
	if m.closed {
		return JournalSeq{}, ErrClosed
	}

	var lastSeq JournalSeq
	if m.current != nil {
		lastSeq = JournalSeq{SegmentSeq: m.segmentSeq, Addr: PAddr{SegmentID: m.current.SegmentID(), Offset: m.writtenTo}}
		oldID := m.current.SegmentID()
		if err := m.current.Close(); err != nil {
			m.current = nil
			return JournalSeq{}, wrapIOErr("close segment", err)
		}
		m.current = nil
		if m.provider != nil {
			if err := m.provider.CloseSegment(ctx, oldID, lastSeq); err != nil {
				return JournalSeq{}, wrapIOErr("close_segment notification", err)
			}
		}
	}

	if m.provider == nil {
		return JournalSeq{}, wrapIOErr("roll", errNoSegmentProvider)
	}
	id, err := m.provider.NextSegmentID(ctx)
	if err != nil {
		return JournalSeq{}, wrapIOErr("get_next_segment_id", err)
	}
	h, err := m.sm.Open(ctx, id)
	if err != nil {
		return JournalSeq{}, wrapIOErr("open segment", err)
	}

	m.segmentSeq++
	m.segmentSeqStat.Store(uint64(m.segmentSeq))
	m.nonce = SegmentNonce(rand.Uint64())

	hdr := SegmentHeader{
		SegmentSeq:      m.segmentSeq,
		SegmentNonce:    m.nonce,
		JournalTailHint: lastSeq,
	}
	buf := make([]byte, m.headerSize)
	encodeSegmentHeader(buf, hdr)
	if err := h.Write(ctx, 0, buf); err != nil {
		h.Close()
		return JournalSeq{}, wrapIOErr("write segment header", err)
	}

	m.current = h
	m.writtenTo = m.headerSize

	if m.owner != nil {
		m.owner.metrics().SegmentRolls.Inc()
		if m.owner.verbose {
			m.owner.logger.LogAttrs(ctx, slog.LevelDebug, "journal: rolled segment",
				slog.Uint64("segment_seq", uint64(m.segmentSeq)), slog.Uint64("segment_id", uint64(id)))
		}
	}

	return JournalSeq{SegmentSeq: m.segmentSeq, Addr: PAddr{SegmentID: id, Offset: m.writtenTo}}, nil
}

// pendingWrite represents an in-flight device write. Its offset/seq are
// fixed at reservation time; ready is closed once the write completes, with
// err set beforehand if it failed.
type pendingWrite struct {
	seq   JournalSeq
	ready chan struct{}
	err   error
}

// Write reserves space at the current writtenTo offset (synchronously, and
// only ever from the submitter's actor goroutine), then issues the device
// write asynchronously. Multiple writes may be in flight and may complete
// out of order; only offset allocation is serialized.
func (m *jsm) Write(ctx context.Context, buf []byte) (*pendingWrite, error) {
	if m.closed || m.current == nil {
		return nil, ErrClosed
	}
	if int(m.writtenTo)+len(buf) > m.segmentSize {
		return nil, ErrRange
	}

	off := m.writtenTo
	m.writtenTo += SegmentOffset(len(buf))
	id := m.current.SegmentID()
	h := m.current

	pw := &pendingWrite{
		seq:   JournalSeq{SegmentSeq: m.segmentSeq, Addr: PAddr{SegmentID: id, Offset: off}},
		ready: make(chan struct{}),
	}

	owner := m.owner
	go func() {
		var start time.Time
		if owner != nil {
			start = owner.Now()
		}
		err := h.Write(ctx, off, buf)
		if owner != nil {
			owner.metrics().WriteLatency.Observe(owner.Now().Sub(start).Seconds())
		}
		if err != nil {
			pw.err = wrapIOErr("segment write", err)
		}
		close(pw.ready)
	}()

	if m.owner != nil {
		m.owner.metrics().BytesWritten.Add(float64(len(buf)))
	}

	return pw, nil
}

// MarkCommitted bumps committedTo to max(committedTo, seq). Callers must
// invoke it in strictly increasing seq order (spec.md §4.1).
func (m *jsm) MarkCommitted(seq JournalSeq) {
	if seq.Compare(m.committedTo) > 0 {
		m.committedTo = seq
		m.committedToStat.Store(&seq)
	}
}

// Close finalizes the current segment. Further writes fail with ErrClosed.
func (m *jsm) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.current != nil {
		err := m.current.Close()
		m.current = nil
		if err != nil {
			return wrapIOErr("close segment", err)
		}
	}
	return nil
}
