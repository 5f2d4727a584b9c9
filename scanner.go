package journal

import (
	"context"
	"fmt"
)

// blockScanner is the Scanner implementation returned by NewBlockScanner:
// it walks a segment by decoding one
// fixed-size RecordHeader at a time via SegmentHandle.ReadAt, the same
// read-then-decode-header approach the teacher's segmentReader uses,
// adapted from a buffered os.File stream to random-access SegmentHandle
// reads since segments are no longer necessarily backed by local files.
type blockScanner struct{}

// NewBlockScanner returns the default Scanner, suitable for any
// SegmentManager whose segments support ReadAt.
func NewBlockScanner() Scanner { return blockScanner{} }

func (blockScanner) Open(ctx context.Context, h SegmentHandle, header SegmentHeader, start SegmentOffset) (ScanCursor, error) {
	return &blockCursor{h: h, header: header, pos: start}, nil
}

type blockCursor struct {
	h      SegmentHandle
	header SegmentHeader
	pos    SegmentOffset
}

// Next reads and decodes the record header at the cursor's current
// position, then its metadata and data regions. It returns (zero, false,
// nil) once fewer than recordHeaderSize bytes remain before the segment's
// write capacity -- a clean end of segment, not a torn tail -- and (zero,
// false, err) if a header fails to decode or the handle read fails, which
// Replay interprets according to whether this is the newest segment.
func (c *blockCursor) Next(ctx context.Context) (ScannedRecord, bool, error) {
	capacity := SegmentOffset(c.h.WriteCapacity())
	if c.pos+recordHeaderSize > capacity {
		return ScannedRecord{}, false, nil
	}

	hbuf, err := c.h.ReadAt(ctx, c.pos, recordHeaderSize)
	if err != nil {
		return ScannedRecord{}, false, err
	}
	hdr, ok := decodeRecordHeader(hbuf)
	if !ok {
		return ScannedRecord{}, false, fmt.Errorf("journal: undecodable record header at offset %d", c.pos)
	}
	if hdr == (RecordHeader{}) {
		// An all-zero header is what an unwritten (or zero-filled) tail
		// region looks like; treat it the same as a clean end of segment.
		// A legitimate empty-payload record still carries a non-zero
		// SegmentNonce, so this never misclassifies real data.
		return ScannedRecord{}, false, nil
	}

	total := SegmentOffset(hdr.MDLength) + SegmentOffset(hdr.DLength)
	if c.pos+recordHeaderSize+total > capacity {
		return ScannedRecord{}, false, nil
	}

	body, err := c.h.ReadAt(ctx, c.pos+recordHeaderSize, int(total))
	if err != nil {
		return ScannedRecord{}, false, err
	}

	rec := ScannedRecord{
		Header:   hdr,
		Offset:   c.pos,
		Metadata: body[:hdr.MDLength],
		Data:     body[hdr.MDLength:],
	}
	c.pos += recordHeaderSize + total
	return rec, true, nil
}

func (c *blockCursor) Close() error { return nil }
