package journal

import (
	"context"
	"sync"
	"testing"
	"time"
)

// gatedHandle is a SegmentHandle whose Write calls block until the test
// explicitly releases them, letting a test dictate device completion
// order independently of submission order.
type gatedHandle struct {
	id   SegmentID
	size int

	mu    sync.Mutex
	calls int
	gates []chan struct{}
}

func newGatedHandle(id SegmentID, size, numWrites int) *gatedHandle {
	gates := make([]chan struct{}, numWrites)
	for i := range gates {
		gates[i] = make(chan struct{})
	}
	return &gatedHandle{id: id, size: size, gates: gates}
}

func (h *gatedHandle) SegmentID() SegmentID { return h.id }
func (h *gatedHandle) WriteCapacity() int   { return h.size }

func (h *gatedHandle) Write(ctx context.Context, offset SegmentOffset, buf []byte) error {
	h.mu.Lock()
	idx := h.calls
	h.calls++
	gate := h.gates[idx]
	h.mu.Unlock()
	<-gate
	return nil
}

func (h *gatedHandle) ReadAt(ctx context.Context, offset SegmentOffset, n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (h *gatedHandle) Close() error { return nil }

func (h *gatedHandle) release(idx int) { close(h.gates[idx]) }

func (h *gatedHandle) waitForCalls(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		c := h.calls
		h.mu.Unlock()
		if c >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d device writes, saw %d", n, h.calls)
}

type fixedHandleSM struct {
	h         *gatedHandle
	blockSize int
}

func (sm *fixedHandleSM) SegmentSize() int { return sm.h.size }
func (sm *fixedHandleSM) BlockSize() int   { return sm.blockSize }
func (sm *fixedHandleSM) Open(ctx context.Context, id SegmentID) (SegmentHandle, error) {
	return sm.h, nil
}

type fixedProvider struct{ id SegmentID }

func (p fixedProvider) NextSegmentID(ctx context.Context) (SegmentID, error) { return p.id, nil }
func (p fixedProvider) CloseSegment(ctx context.Context, id SegmentID, lastSeq JournalSeq) error {
	return nil
}

// trackingHandle is an OrderingHandle that records the order in which its
// EnterFinalize stage runs, into a slice shared across every tag sharing
// the same order/mu.
type trackingHandle struct {
	tag   string
	order *[]string
	mu    *sync.Mutex
}

func (h trackingHandle) EnterDeviceSubmission(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func (h trackingHandle) EnterFinalize(ctx context.Context) (func(), error) {
	h.mu.Lock()
	*h.order = append(*h.order, h.tag)
	h.mu.Unlock()
	return func() {}, nil
}

// TestFIFOCompletionOrderSurvivesReversedDeviceCompletion drives three
// concurrent submissions under io_depth_limit=2, batch_capacity=1: the
// first two land as independent single-record writes, the third only
// flushes the second once it arrives (see canBatch). It then completes
// the device writes in reverse order (second write first) and asserts
// that EnterFinalize -- and therefore commit acknowledgement -- still
// fires in submission order, not completion order.
//
// Gate 0 is the segment header write made by OpenForWrite's roll; gates
// 1-3 are the record writes.
func TestFIFOCompletionOrderSurvivesReversedDeviceCompletion(t *testing.T) {
	ctx := context.Background()
	h := newGatedHandle(1, 8192, 4)
	sm := &fixedHandleSM{h: h, blockSize: 64}

	j := New(sm, NewBlockScanner(), Options{Config: Config{IODepthLimit: 2, BatchCapacity: 1, BatchFlushSize: 64}})
	j.SetSegmentProvider(fixedProvider{id: 1})
	h.release(0)
	if _, err := j.OpenForWrite(ctx); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}

	var mu sync.Mutex
	var order []string

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	doneC := make(chan error, 1)

	go func() {
		_, _, err := j.SubmitRecord(ctx, Record{Deltas: []DeltaInfo{DeltaInfo("A")}}, trackingHandle{tag: "A", order: &order, mu: &mu})
		doneA <- err
	}()
	h.waitForCalls(t, 2)

	go func() {
		_, _, err := j.SubmitRecord(ctx, Record{Deltas: []DeltaInfo{DeltaInfo("B")}}, trackingHandle{tag: "B", order: &order, mu: &mu})
		doneB <- err
	}()
	time.Sleep(20 * time.Millisecond) // let B reach the submitter before C

	go func() {
		_, _, err := j.SubmitRecord(ctx, Record{Deltas: []DeltaInfo{DeltaInfo("C")}}, trackingHandle{tag: "C", order: &order, mu: &mu})
		doneC <- err
	}()
	h.waitForCalls(t, 3) // C's arrival flushed B, giving a second outstanding write

	// Complete the second write (B) before the first (A): reversed order.
	h.release(2)
	time.Sleep(20 * time.Millisecond)
	h.release(1)

	if err := <-doneA; err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if err := <-doneB; err != nil {
		t.Fatalf("submit B: %v", err)
	}

	h.waitForCalls(t, 4) // A and B completing freed a slot for C to flush
	h.release(3)
	if err := <-doneC; err != nil {
		t.Fatalf("submit C: %v", err)
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("finalize order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("finalize order = %v, want %v", got, want)
		}
	}
}
