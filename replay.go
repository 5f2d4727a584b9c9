package journal

import (
	"context"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DeltaHandler is invoked once per successfully decoded record, in strict
// journal order, by Replay. Implementations apply the deltas (and any raw
// data extents) to their own state; Replay awaits each call before
// advancing, so a handler's own ordering guarantees are preserved.
type DeltaHandler func(ctx context.Context, seq JournalSeq, deltas []DeltaInfo, data []byte) error

// ReplaySegment names one segment to be replayed: its already-open handle
// and the header Open (or a prior scan) already validated.
type ReplaySegment struct {
	ID     SegmentID
	Handle SegmentHandle
	Header SegmentHeader
}

// Replay reconstructs journal state by scanning segments in segment_seq
// order and invoking handler for every valid record found, stopping at the
// first torn tail it encounters in the newest segment. It returns the
// JournalSeq immediately past the last record it delivered, suitable for
// jsm.SetSegmentSeq plus a subsequent roll to resume writing (spec.md §4.4).
func Replay(ctx context.Context, scanner Scanner, sm SegmentManager, segments []ReplaySegment, handler DeltaHandler) (JournalSeq, error) {
	ordered, err := prepReplaySegments(segments)
	if err != nil {
		return JournalSeq{}, err
	}
	if len(ordered) == 0 {
		return JournalSeq{}, nil
	}

	headerSpan := SegmentOffset(alignUp(segmentHeaderSize, sm.BlockSize()))

	var last JournalSeq
	for i, seg := range ordered {
		isNewest := i == len(ordered)-1
		segLast, err := replaySegment(ctx, scanner, seg, headerSpan, isNewest, handler)
		if err != nil {
			return JournalSeq{}, err
		}
		if !segLast.IsZero() {
			last = segLast
		}
	}
	return last, nil
}

// prepReplaySegments sorts segments by segment_seq and rejects any input
// that names the same segment_seq twice, since replay order is undefined
// in that case and almost always indicates a segment provider bug.
func prepReplaySegments(segments []ReplaySegment) ([]ReplaySegment, error) {
	ordered := make([]ReplaySegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Header.SegmentSeq < ordered[j].Header.SegmentSeq
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Header.SegmentSeq == ordered[i-1].Header.SegmentSeq {
			return nil, ErrDuplicateSegmentSeq
		}
	}
	return ordered, nil
}

// replaySegment walks every record of one segment via the scanner,
// validating each record's checksums and nonce before handing its deltas
// to handler. In the newest segment, a decode or checksum failure is taken
// as a torn tail, not an error: replay of that segment stops there without
// error, and whatever follows the failing record is not examined, so a
// failure in the middle of the newest segment is not told apart from one
// at its end. The same failure in any segment that is not the newest is
// corruption and aborts replay with ErrTornSegment.
func replaySegment(ctx context.Context, scanner Scanner, seg ReplaySegment, start SegmentOffset, isNewest bool, handler DeltaHandler) (JournalSeq, error) {
	cursor, err := scanner.Open(ctx, seg.Handle, seg.Header, start)
	if err != nil {
		return JournalSeq{}, wrapIOErr("open scan cursor", err)
	}
	defer cursor.Close()

	var last JournalSeq
	for {
		rec, ok, err := cursor.Next(ctx)
		if err != nil {
			if isNewest {
				return last, nil
			}
			return JournalSeq{}, fmt.Errorf("%w: segment %d: %v", ErrTornSegment, seg.ID, err)
		}
		if !ok {
			return last, nil
		}

		deltas, valid := validateRecord(rec, seg.Header.SegmentNonce)
		if !valid {
			if isNewest {
				return last, nil
			}
			return JournalSeq{}, fmt.Errorf("%w: segment %d at offset %d", ErrTornSegment, seg.ID, rec.Offset)
		}

		seq := JournalSeq{SegmentSeq: seg.Header.SegmentSeq, Addr: PAddr{SegmentID: seg.ID, Offset: rec.Offset}}
		if err := handler(ctx, seq, deltas, rec.Data); err != nil {
			return JournalSeq{}, err
		}
		last = JournalSeq{SegmentSeq: seg.Header.SegmentSeq, Addr: PAddr{SegmentID: seg.ID, Offset: rec.Offset + SegmentOffset(rec.Header.MDLength) + SegmentOffset(rec.Header.DLength) + recordHeaderSize}}
	}
}

// validateRecord recomputes both checksums and the nonce carried in rec's
// header, decoding its deltas only once all three agree. Any disagreement
// means the record was only partially written.
func validateRecord(rec ScannedRecord, nonce SegmentNonce) ([]DeltaInfo, bool) {
	if rec.Header.SegmentNonce != nonce {
		return nil, false
	}

	var mdHash xxhash.Digest
	mdHash.Reset()
	mdHash.Write(rec.Metadata)
	if mdHash.Sum64() != rec.Header.MDataChecksum {
		return nil, false
	}

	var full xxhash.Digest
	full.Reset()
	full.Write(rec.Metadata)
	full.Write(rec.Data)
	if full.Sum64() != rec.Header.FullChecksum {
		return nil, false
	}

	deltas, ok := decodeDeltas(rec.Metadata, int(rec.Header.DeltasCount))
	if !ok {
		return nil, false
	}
	return deltas, true
}
