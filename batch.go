package journal

import "github.com/cespare/xxhash/v2"

type batchState uint8

const (
	batchEmpty batchState = iota
	batchPending
	batchSubmitting
)

// contributor is one record's stake in a RecordBatch: its payload, its
// precomputed size, the caller's ordering handle (nil if none), and the
// channel its result is delivered on.
type contributor struct {
	record Record
	size   RecordSize
	handle OrderingHandle
	result chan submitResult
}

// submitResult is what SubmitRecord eventually delivers to its caller.
type submitResult struct {
	addr PAddr
	seq  JournalSeq
	err  error
}

// RecordBatch is a reusable slot that accumulates pending records into a
// single device write. One batch is the unit of I/O.
//
// State machine: EMPTY -> PENDING -> SUBMITTING -> EMPTY. The SUBMITTING
// state is held only for the duration of encodeRecords: once the bytes are
// serialized, the contributor list is handed off to the caller as an
// independent snapshot (a batchWrite) and the RecordBatch itself returns to
// EMPTY immediately, so it can be reused by the next accumulating record
// before the device write this batch produced has even completed. The
// reusable slot is the RecordBatch, not the in-flight write; there is no
// free list, since the submitter reuses a single RecordBatch.
type RecordBatch struct {
	state        batchState
	contributors []contributor
	encodedLen   int
}

func newRecordBatch() *RecordBatch {
	return &RecordBatch{state: batchEmpty}
}

// canBatch returns the encoded length the batch would reach if record were
// added, or 0 if that would exceed batchCapacity records or
// batchFlushSize bytes. An empty batch always admits the first record
// regardless of those limits -- a record can't be split across batches,
// so refusing it here would leave it unplaceable.
func (b *RecordBatch) canBatch(size RecordSize, batchCapacity, batchFlushSize int) int {
	if len(b.contributors) == 0 {
		return b.encodedLen + size.Encoded()
	}
	if len(b.contributors) >= batchCapacity {
		return 0
	}
	would := b.encodedLen + size.Encoded()
	if would > batchFlushSize {
		return 0
	}
	return would
}

// addPending appends record to the batch, delivering its eventual result on
// result. Transitions EMPTY->PENDING.
func (b *RecordBatch) addPending(record Record, size RecordSize, handle OrderingHandle, result chan submitResult) {
	b.contributors = append(b.contributors, contributor{
		record: record,
		size:   size,
		handle: handle,
		result: result,
	})
	b.encodedLen += size.Encoded()
	b.state = batchPending
}

// batchWrite is the snapshot handed off once a batch has been encoded: the
// bytes to write plus the ordered contributor list needed to resolve
// journal_seq values once the write completes.
type batchWrite struct {
	contributors []contributor
}

// encodeRecords serializes all pending contributors into one buffer, each
// record laid out as header, metadata, data. The metadata and data regions
// are individually block-aligned; the header is a fixed recordHeaderSize
// bytes and is not padded, so records and the buffer as a whole are
// block-aligned only when the block size divides recordHeaderSize. Returns
// the buffer and a batchWrite snapshot, and immediately frees the
// RecordBatch back to EMPTY.
func (b *RecordBatch) encodeRecords(committedTo JournalSeq, nonce SegmentNonce) ([]byte, batchWrite) {
	b.state = batchSubmitting

	buf := make([]byte, 0, b.encodedLen)
	for _, c := range b.contributors {
		md := appendDeltas(make([]byte, 0, c.size.MDLength), c.record.Deltas)
		md = padTo(md, c.size.MDLength)

		data := make([]byte, 0, c.size.DLength)
		for _, extent := range c.record.DataExtents {
			data = append(data, extent...)
		}
		data = padTo(data, c.size.DLength)

		var mdHash xxhash.Digest
		mdHash.Reset()
		mdHash.Write(md)

		hdr := RecordHeader{
			MDLength:      uint32(c.size.MDLength),
			DLength:       uint32(c.size.DLength),
			DeltasCount:   uint32(len(c.record.Deltas)),
			CommittedTo:   committedTo,
			MDataChecksum: mdHash.Sum64(),
			SegmentNonce:  nonce,
		}

		hbuf := make([]byte, recordHeaderSize)
		var full xxhash.Digest
		full.Reset()
		full.Write(md)
		full.Write(data)
		hdr.FullChecksum = full.Sum64()
		encodeRecordHeader(hbuf, hdr)

		buf = append(buf, hbuf...)
		buf = append(buf, md...)
		buf = append(buf, data...)
	}

	bw := batchWrite{contributors: b.contributors}
	b.contributors = nil
	b.encodedLen = 0
	b.state = batchEmpty
	return buf, bw
}

// resolveContributors fires every contributor's result channel with
// writeStart (success) or err (failure), computing each contributor's
// journal_seq as writeStart plus the cumulative encoded length of the
// contributors before it. This is spec.md §4.2's set_result, operating on
// the detached batchWrite snapshot rather than a live RecordBatch.
func resolveContributors(bw batchWrite, writeStart JournalSeq, err error) {
	offset := writeStart.Addr.Offset
	for _, c := range bw.contributors {
		if err != nil {
			c.result <- submitResult{err: err}
			continue
		}
		addr := PAddr{SegmentID: writeStart.Addr.SegmentID, Offset: offset}
		seq := JournalSeq{SegmentSeq: writeStart.SegmentSeq, Addr: addr}
		c.result <- submitResult{addr: addr, seq: seq}
		offset += SegmentOffset(c.size.Encoded())
	}
}

// submitPendingFast is the combined add+encode path for a single record
// with no *shared* promise (only one contributor), valid only when the
// batch is EMPTY and the caller has already acquired an I/O slot.
func (b *RecordBatch) submitPendingFast(record Record, size RecordSize, handle OrderingHandle, result chan submitResult, committedTo JournalSeq, nonce SegmentNonce) ([]byte, batchWrite) {
	b.addPending(record, size, handle, result)
	return b.encodeRecords(committedTo, nonce)
}

func padTo(buf []byte, length int) []byte {
	if len(buf) >= length {
		return buf[:length]
	}
	return append(buf, make([]byte, length-len(buf))...)
}
