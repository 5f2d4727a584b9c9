// Package memdevice is an in-memory SegmentManager, useful for tests and
// for embedding systems that keep the journal entirely in RAM (e.g. ahead
// of a separate snapshotting mechanism). It is grounded in the
// sector-aligned, fixed-size block device allocator pattern used by
// bb-storage's local block device backed allocator: segments are
// fixed-size byte arenas addressed by offset, with writes rejected outside
// segment bounds.
package memdevice

import (
	"context"
	"fmt"
	"sync"

	journal "github.com/andreyvit/swjournal"
)

// Device is a SegmentManager backed by a map of in-memory byte buffers, one
// per live SegmentID. It is safe for concurrent use.
type Device struct {
	segmentSize int
	blockSize   int

	mu       sync.Mutex
	segments map[journal.SegmentID][]byte
	closed   map[journal.SegmentID]bool
}

// New returns a Device holding segmentSize-byte segments, block-aligned to
// blockSize.
func New(segmentSize, blockSize int) *Device {
	return &Device{
		segmentSize: segmentSize,
		blockSize:   blockSize,
		segments:    make(map[journal.SegmentID][]byte),
		closed:      make(map[journal.SegmentID]bool),
	}
}

func (d *Device) SegmentSize() int { return d.segmentSize }
func (d *Device) BlockSize() int   { return d.blockSize }

// Open allocates (or reopens) the backing buffer for id. Reopening an id
// that was previously closed returns the same buffer, as a real device
// would, so segment headers written before a restart remain readable.
func (d *Device) Open(ctx context.Context, id journal.SegmentID) (journal.SegmentHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.segments[id]; !ok {
		d.segments[id] = make([]byte, d.segmentSize)
	}
	delete(d.closed, id)
	return &handle{dev: d, id: id}, nil
}

type handle struct {
	dev *Device
	id  journal.SegmentID
}

func (h *handle) SegmentID() journal.SegmentID { return h.id }
func (h *handle) WriteCapacity() int           { return h.dev.segmentSize }

func (h *handle) Write(ctx context.Context, offset journal.SegmentOffset, buf []byte) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()

	if h.dev.closed[h.id] {
		return fmt.Errorf("memdevice: segment %d is closed", h.id)
	}
	seg := h.dev.segments[h.id]
	end := int(offset) + len(buf)
	if int(offset) < 0 || end > len(seg) {
		return fmt.Errorf("memdevice: write [%d,%d) out of bounds for segment of size %d", offset, end, len(seg))
	}
	copy(seg[offset:end], buf)
	return nil
}

func (h *handle) ReadAt(ctx context.Context, offset journal.SegmentOffset, n int) ([]byte, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()

	seg := h.dev.segments[h.id]
	end := int(offset) + n
	if int(offset) < 0 || end > len(seg) {
		return nil, fmt.Errorf("memdevice: read [%d,%d) out of bounds for segment of size %d", offset, end, len(seg))
	}
	out := make([]byte, n)
	copy(out, seg[offset:end])
	return out, nil
}

func (h *handle) Close() error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.closed[h.id] = true
	return nil
}
