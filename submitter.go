package journal

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// ioState is the RecordSubmitter's derived state, computed from
// numOutstanding vs. the configured io_depth_limit (spec.md §4.3).
type ioState uint8

const (
	ioIdle ioState = iota
	ioPending
	ioFull
)

// submitRequest is one caller's SubmitRecord call, handed to the
// submitter's single actor goroutine.
type submitRequest struct {
	record Record
	handle OrderingHandle
	reply  chan submitResult
}

// outstandingWrite is one batch's write in flight, tracked in submission
// order so completions can be applied to the journal's committed_to cursor
// and to each contributor's ordering handle in submission order even
// though the underlying device writes may complete out of order
// (spec.md §5).
type outstandingWrite struct {
	pw *pendingWrite
	bw batchWrite
}

// RecordSubmitter is the concurrency controller: it admits concurrent
// record submissions, groups them into batches, enforces io_depth_limit
// outstanding writes, and produces ordered commit notifications.
//
// Internally it runs as a single actor goroutine consuming reqCh. This is
// the "wrap the submitter in a single-writer actor" strategy spec.md §9
// calls for when the host runtime is preemptively threaded rather than
// single-threaded cooperative: Submit, Close and Stats are the methods safe
// to call from arbitrary goroutines. Submit and Close work purely by sending
// a request and waiting for a reply, and Stats reads atomic mirrors, never
// touching actor-owned state directly.
//
// Exactly one RecordBatch is ever live at a time: encodeRecords detaches a
// batch's contributors into an independent batchWrite snapshot and resets
// the RecordBatch to EMPTY in place before the write it produced has even
// reached the device, so current is reused forever rather than pooled --
// there is never a second batch accumulating concurrently with it.
type RecordSubmitter struct {
	owner *Journal
	jsm   *jsm
	cfg   Config

	reqCh  chan submitRequest
	wakeCh chan struct{}
	stopCh chan chan error

	// actor-owned state; touched only inside run().
	current        *RecordBatch
	numOutstanding int
	outstanding    []*outstandingWrite
	waiting        []submitRequest // FIFO of requests suspended while FULL
	rolling        bool            // true while rollIfNeeded is draining for a roll

	// statOutstanding and statWaiting mirror numOutstanding and len(waiting)
	// for lock-free reads from Journal.Summary; the actor goroutine is the
	// sole writer.
	statOutstanding atomic.Int64
	statWaiting     atomic.Int64
}

// Stats returns a point-in-time view of the submitter's queue depths,
// safe to call from any goroutine.
func (s *RecordSubmitter) Stats() (outstanding, waiting int) {
	return int(s.statOutstanding.Load()), int(s.statWaiting.Load())
}

func newRecordSubmitter(owner *Journal, m *jsm, cfg Config) *RecordSubmitter {
	s := &RecordSubmitter{
		owner:   owner,
		jsm:     m,
		cfg:     cfg,
		reqCh:   make(chan submitRequest),
		wakeCh:  make(chan struct{}, cfg.IODepthLimit+1),
		stopCh:  make(chan chan error),
		current: newRecordBatch(),
	}
	go s.run()
	return s
}

func (s *RecordSubmitter) state() ioState {
	switch {
	case s.numOutstanding == 0:
		return ioIdle
	case s.numOutstanding >= s.cfg.IODepthLimit:
		return ioFull
	default:
		return ioPending
	}
}

// Submit is the submitter's public entry point (spec.md §4.3): it computes
// record_size, brackets the caller's EnterDeviceSubmission stage around the
// scheduling decision, then hands the record to the actor goroutine. The
// roll decision itself is made inside the actor (see schedule), not here,
// since jsm's writtenTo/current fields are only ever safe to read or mutate
// from that single goroutine.
func (s *RecordSubmitter) Submit(ctx context.Context, record Record, handle OrderingHandle) (PAddr, JournalSeq, error) {
	size := ComputeRecordSize(record, s.jsm.GetBlockSize())
	if size.Encoded() > s.jsm.GetMaxWriteLength() {
		return PAddr{}, JournalSeq{}, ErrRange
	}

	if handle != nil {
		release, err := handle.EnterDeviceSubmission(ctx)
		if err != nil {
			return PAddr{}, JournalSeq{}, err
		}
		defer release()
	}

	reply := make(chan submitResult, 1)
	req := submitRequest{record: record, handle: handle, reply: reply}

	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return PAddr{}, JournalSeq{}, ctx.Err()
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return PAddr{}, JournalSeq{}, res.err
		}
		return res.addr, res.seq, nil
	case <-ctx.Done():
		return PAddr{}, JournalSeq{}, ctx.Err()
	}
}

// Close quiesces new submissions, drains in-flight I/O, and closes the JSM.
// This resolves the open question in spec.md §9 in favor of draining
// rather than abandoning outstanding writes.
func (s *RecordSubmitter) Close() error {
	reply := make(chan error, 1)
	s.stopCh <- reply
	return <-reply
}

func (s *RecordSubmitter) run() {
	for {
		select {
		case req := <-s.reqCh:
			s.schedule(req)
		case <-s.wakeCh:
			s.drainCompleted()
		case reply := <-s.stopCh:
			s.drainAll()
			reply <- s.jsm.Close()
			return
		}
	}
}

// drainAll blocks until every outstanding write (including one last flush
// of a non-empty accumulating batch) has resolved, applying completions in
// the same FIFO order drainCompleted uses.
func (s *RecordSubmitter) drainAll() {
	if s.current != nil && len(s.current.contributors) > 0 {
		s.flushCurrent(context.Background())
	}
	s.drainOutstanding()
}

// drainOutstanding blocks until every write currently in flight has
// resolved, applying completions in FIFO order as it goes. Only ever
// called from the actor goroutine.
func (s *RecordSubmitter) drainOutstanding() {
	for len(s.outstanding) > 0 {
		head := s.outstanding[0]
		<-head.pw.ready
		s.drainCompleted()
	}
}

// rollIfNeeded implements the roll_the_segment_if_needed step of spec.md
// §4.3 step 3 from inside the actor goroutine, where it is safe to read and
// mutate jsm's writtenTo/current fields: it flushes any batch still
// accumulating against the old segment, drains every write still in flight
// against it (so roll never closes a segment a write hasn't finished
// landing in), then rolls. Folding the decision and the roll itself into a
// single actor-only step also means only one roll ever happens per fill,
// even under concurrent submitters.
//
// While draining, s.rolling tells finishOne to leave waiting requests and a
// re-accumulating batch alone rather than redispatching them through
// schedule: redispatching here would re-enter rollIfNeeded against a
// segment that hasn't rolled yet, risking a second roll before this one
// finishes. dispatchWaiting catches those suspended requests back up once
// the roll has gone through.
func (s *RecordSubmitter) rollIfNeeded(size int) error {
	if !s.jsm.NeedsRoll(size) {
		return nil
	}
	if s.current != nil && len(s.current.contributors) > 0 {
		s.flushCurrent(context.Background())
	}
	s.rolling = true
	s.drainOutstanding()
	s.rolling = false

	_, err := s.jsm.roll(context.Background())
	// Redispatch regardless of outcome: requests parked in waiting during
	// the drain above (because s.rolling was true) must not be stranded
	// just because this particular roll attempt failed -- dispatchWaiting
	// re-enters schedule for each, which will surface the same failure to
	// them via their own rollIfNeeded call if the segment is still unrolled.
	s.dispatchWaiting()
	return err
}

// dispatchWaiting redispatches requests suspended on the FIFO wait queue.
// finishOne defers to this instead of dispatching directly while a roll is
// draining; rollIfNeeded calls it once the roll completes.
func (s *RecordSubmitter) dispatchWaiting() {
	for len(s.waiting) > 0 && s.state() != ioFull {
		next := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.updateWaitGauge()
		s.schedule(next)
	}
}

// schedule implements the IDLE/PENDING/FULL decision tree of spec.md §4.3
// step 3: idle takes the fast single-record path, pending tries to grow
// the accumulating batch or flushes and retries, full suspends the request
// on the FIFO wait queue until an outstanding write completes.
func (s *RecordSubmitter) schedule(req submitRequest) {
	size := ComputeRecordSize(req.record, s.jsm.GetBlockSize())

	if err := s.rollIfNeeded(size.Encoded()); err != nil {
		req.reply <- submitResult{err: err}
		return
	}

	switch s.state() {
	case ioIdle:
		s.numOutstanding++
		s.updateOutstandingGauge()
		buf, bw := s.current.submitPendingFast(req.record, size, req.handle, req.reply, s.jsm.GetCommittedTo(), s.jsm.GetNonce())
		s.issue(context.Background(), buf, bw)

	case ioPending:
		if would := s.current.canBatch(size, s.cfg.BatchCapacity, s.cfg.BatchFlushSize); would == 0 || would > s.jsm.GetMaxWriteLength() {
			s.flushCurrent(context.Background())
			s.schedule(req) // retry from the top with the same record
			return
		}
		s.current.addPending(req.record, size, req.handle, req.reply)

	case ioFull:
		s.waiting = append(s.waiting, req)
		s.updateWaitGauge()
	}
}

func (s *RecordSubmitter) updateWaitGauge() {
	s.statWaiting.Store(int64(len(s.waiting)))
	if s.owner != nil {
		s.owner.metrics().WaitQueueDepth.Set(float64(len(s.waiting)))
	}
}

// flushCurrent promotes the current accumulating batch to SUBMITTING and
// encodes it. encodeRecords resets current to EMPTY in place, so it is
// immediately ready to accumulate the next record; only the detached
// batchWrite snapshot travels with the in-flight write.
func (s *RecordSubmitter) flushCurrent(ctx context.Context) {
	if s.current == nil || len(s.current.contributors) == 0 {
		return
	}
	buf, bw := s.current.encodeRecords(s.jsm.GetCommittedTo(), s.jsm.GetNonce())
	s.numOutstanding++
	s.updateOutstandingGauge()
	s.issue(ctx, buf, bw)
}

// issue hands encoded bytes to the JSM and registers the resulting
// pendingWrite in the FIFO so completions are applied in submission order
// regardless of device completion order.
func (s *RecordSubmitter) issue(ctx context.Context, buf []byte, bw batchWrite) {
	pw, err := s.jsm.Write(ctx, buf)
	if err != nil {
		resolveContributors(bw, JournalSeq{}, err)
		s.finishOne()
		return
	}
	s.outstanding = append(s.outstanding, &outstandingWrite{pw: pw, bw: bw})
	if s.owner != nil {
		s.owner.metrics().BatchesFlushed.Inc()
	}
	go func() {
		<-pw.ready
		select {
		case s.wakeCh <- struct{}{}:
		default:
		}
	}()
}

// drainCompleted applies FIFO completions: while the head of the
// outstanding queue has resolved, process it (mark_committed, run each
// contributor's finalize stage, deliver results), in submission order
// regardless of actual device completion order (spec.md §5).
func (s *RecordSubmitter) drainCompleted() {
	for len(s.outstanding) > 0 {
		head := s.outstanding[0]
		select {
		case <-head.pw.ready:
		default:
			return
		}
		s.outstanding = s.outstanding[1:]
		s.finishSubmitBatch(head)
	}
}

// finishSubmitBatch is spec.md §4.2's finish_submit_batch: on success it
// advances committed_to to the offset immediately past the batch's last
// contributor, then runs every contributor's EnterFinalize stage (in
// submission order, since this is only ever called from the head of the
// FIFO) before delivering each contributor's result.
func (s *RecordSubmitter) finishSubmitBatch(w *outstandingWrite) {
	if w.pw.err == nil && len(w.bw.contributors) > 0 {
		off := w.pw.seq.Addr.Offset
		for _, c := range w.bw.contributors {
			off += SegmentOffset(c.size.Encoded())
		}
		s.jsm.MarkCommitted(JournalSeq{SegmentSeq: w.pw.seq.SegmentSeq, Addr: PAddr{SegmentID: w.pw.seq.Addr.SegmentID, Offset: off}})
	}

	for _, c := range w.bw.contributors {
		if c.handle == nil {
			continue
		}
		if release, err := c.handle.EnterFinalize(context.Background()); err == nil {
			release()
		}
	}

	resolveContributors(w.bw, w.pw.seq, w.pw.err)
	s.finishOne()
}

// finishOne implements decrement_io_with_flush: decrement outstanding,
// recompute state, redispatch suspended waiters in FIFO order (as many as
// the state allows) if there are any, and otherwise flush a
// stranded accumulating batch so a lone record is never held indefinitely
// once the journal has gone idle. While a roll is draining (s.rolling),
// suspended requests and the accumulating batch are left alone --
// rollIfNeeded picks both back up once the roll has gone through.
func (s *RecordSubmitter) finishOne() {
	s.numOutstanding--
	s.updateOutstandingGauge()

	if s.rolling {
		return
	}

	if len(s.waiting) > 0 {
		s.dispatchWaiting()
		return
	}

	if s.current != nil && len(s.current.contributors) > 0 && s.state() == ioIdle {
		s.flushCurrent(context.Background())
	}
}

func (s *RecordSubmitter) updateOutstandingGauge() {
	s.statOutstanding.Store(int64(s.numOutstanding))
	if s.owner == nil {
		return
	}
	s.owner.metrics().OutstandingIO.Set(float64(s.numOutstanding))
	if s.owner.verbose {
		s.owner.logger.LogAttrs(context.Background(), slog.LevelDebug, "journal: io depth",
			slog.Int("outstanding", s.numOutstanding))
	}
}
