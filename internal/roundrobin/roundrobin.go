// Package roundrobin is a SegmentProvider over a fixed pool of SegmentIDs,
// handed out in cyclic order once the previous holder of a slot has
// released it via CloseSegment. It is grounded in the teacher journal
// package's free-list segment state tracking (journalState's unsealed/
// sealed slices), adapted from an unbounded growing file set to the fixed
// segment pool SPEC_FULL.md's SegmentProvider model assumes.
package roundrobin

import (
	"context"
	"errors"
	"sync"

	journal "github.com/andreyvit/swjournal"
)

// ErrNoSegmentAvailable is returned by NextSegmentID when every segment in
// the pool is still in use by a previous journal position (i.e. none of
// the pool's segments have been retired via CloseSegment yet, which would
// only happen if the pool is too small for the write rate it must absorb).
var ErrNoSegmentAvailable = errors.New("roundrobin: no segment available")

// Provider cycles through a fixed list of SegmentIDs.
type Provider struct {
	mu      sync.Mutex
	ids     []journal.SegmentID
	inUse   map[journal.SegmentID]bool
	nextIdx int
}

// New returns a Provider cycling through ids in order. len(ids) bounds how
// many segments may be outstanding (allocated but not yet closed) at once.
func New(ids []journal.SegmentID) *Provider {
	return &Provider{ids: ids, inUse: make(map[journal.SegmentID]bool, len(ids))}
}

func (p *Provider) NextSegmentID(ctx context.Context) (journal.SegmentID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.ids); i++ {
		idx := (p.nextIdx + i) % len(p.ids)
		id := p.ids[idx]
		if !p.inUse[id] {
			p.inUse[id] = true
			p.nextIdx = (idx + 1) % len(p.ids)
			return id, nil
		}
	}
	return 0, ErrNoSegmentAvailable
}

func (p *Provider) CloseSegment(ctx context.Context, id journal.SegmentID, lastSeq journal.JournalSeq) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, id)
	return nil
}
