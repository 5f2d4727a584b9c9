// Package sequencer provides an OrderingHandle that enforces strict FIFO
// ordering across every transaction sharing one Sequencer: whichever
// goroutine calls EnterDeviceSubmission first is guaranteed to reach
// EnterFinalize first too, even though the journal's RecordSubmitter may
// batch, reorder, or interleave their underlying device writes. This is
// the caller-side half of the out-of-order-completion, in-order-
// acknowledgement contract described in SPEC_FULL.md: the journal
// guarantees FIFO delivery of its own commit notifications, and a shared
// Sequencer is what lets independent callers observe that guarantee as
// their own submission order rather than the journal's internal batching
// order.
package sequencer

import (
	"context"
	"sync"
)

// Sequencer hands out two independent FIFO tickets, one per
// OrderingHandle stage. A single Sequencer value is an OrderingHandle
// itself and may be passed to any number of concurrent SubmitRecord calls.
type Sequencer struct {
	submission *ticketQueue
	finalize   *ticketQueue
}

// New returns a ready-to-use Sequencer.
func New() *Sequencer {
	return &Sequencer{
		submission: newTicketQueue(),
		finalize:   newTicketQueue(),
	}
}

func (s *Sequencer) EnterDeviceSubmission(ctx context.Context) (func(), error) {
	return s.submission.enter(ctx)
}

func (s *Sequencer) EnterFinalize(ctx context.Context) (func(), error) {
	return s.finalize.enter(ctx)
}

// ticketQueue is a classic ticket lock: the Nth caller to enter is the Nth
// caller released, regardless of goroutine scheduling order.
type ticketQueue struct {
	mu      sync.Mutex
	next    uint64
	turn    uint64
	waiters map[uint64]chan struct{}
}

func newTicketQueue() *ticketQueue {
	return &ticketQueue{waiters: make(map[uint64]chan struct{})}
}

// enter claims the next ticket and blocks until every earlier ticket has
// been released. The returned release function must be called exactly
// once to let the next ticket holder proceed.
//
// If ctx is cancelled while waiting, enter still must eventually vacate
// its ticket so later callers are not stuck behind a no-show: a
// background goroutine keeps waiting and releases immediately on the
// caller's behalf.
func (q *ticketQueue) enter(ctx context.Context) (func(), error) {
	q.mu.Lock()
	ticket := q.next
	q.next++
	ch := make(chan struct{})
	if ticket == q.turn {
		close(ch)
	} else {
		q.waiters[ticket] = ch
	}
	q.mu.Unlock()

	select {
	case <-ch:
		return q.releaseFunc(ticket), nil
	case <-ctx.Done():
		go func() {
			<-ch
			q.release(ticket)
		}()
		return nil, ctx.Err()
	}
}

func (q *ticketQueue) releaseFunc(ticket uint64) func() {
	var once sync.Once
	return func() { once.Do(func() { q.release(ticket) }) }
}

func (q *ticketQueue) release(ticket uint64) {
	q.mu.Lock()
	q.turn = ticket + 1
	next, ok := q.waiters[q.turn]
	delete(q.waiters, q.turn)
	q.mu.Unlock()
	if ok {
		close(next)
	}
}
