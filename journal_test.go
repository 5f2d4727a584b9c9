package journal

import (
	"context"
	"fmt"
	"testing"

	"github.com/andreyvit/swjournal/internal/memdevice"
	"github.com/andreyvit/swjournal/internal/noop"
	"github.com/andreyvit/swjournal/internal/roundrobin"
)

// TestWriteRollReplayRoundTrip submits enough records to force two segment
// rolls, closes the journal, then replays the segments it wrote (via a
// second, independent Journal bound to the same device) and checks that
// every delta comes back in submission order.
func TestWriteRollReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	dev := memdevice.New(512, 64) // header=64, 3 records of 128B fit before a roll is needed
	ids := []SegmentID{100, 101, 102, 103}

	cfg := Config{IODepthLimit: 4, BatchCapacity: 1, BatchFlushSize: 128}

	writer := New(dev, NewBlockScanner(), Options{Config: cfg})
	writer.SetSegmentProvider(roundrobin.New(ids))

	if _, err := writer.OpenForWrite(ctx); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}

	const numRecords = 7
	var sent [][]byte
	var seqs []JournalSeq
	for i := 0; i < numRecords; i++ {
		payload := []byte(fmt.Sprintf("rec-%d", i))
		sent = append(sent, payload)
		rec := Record{Deltas: []DeltaInfo{DeltaInfo(payload)}}
		_, seq, err := writer.SubmitRecord(ctx, rec, noop.Handle{})
		if err != nil {
			t.Fatalf("SubmitRecord %d: %v", i, err)
		}
		seqs = append(seqs, seq)
	}

	if seqs[0].SegmentSeq != 1 || seqs[2].SegmentSeq != 1 {
		t.Fatalf("expected records 0-2 in segment_seq 1, got %v", seqs[:3])
	}
	if seqs[3].SegmentSeq != 2 || seqs[5].SegmentSeq != 2 {
		t.Fatalf("expected records 3-5 in segment_seq 2, got %v", seqs[3:6])
	}
	if seqs[6].SegmentSeq != 3 {
		t.Fatalf("expected record 6 in segment_seq 3, got %v", seqs[6])
	}

	if err := writer.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen each segment the writer used and decode its header, the way a
	// recovering host would after reading its own segment directory.
	usedIDs := []SegmentID{100, 101, 102}
	var segments []ReplaySegment
	for _, id := range usedIDs {
		h, err := dev.Open(ctx, id)
		if err != nil {
			t.Fatalf("open segment %d: %v", id, err)
		}
		buf, err := h.ReadAt(ctx, 0, segmentHeaderSize)
		if err != nil {
			t.Fatalf("read header of segment %d: %v", id, err)
		}
		hdr, ok := decodeSegmentHeader(buf)
		if !ok {
			t.Fatalf("segment %d header failed to decode", id)
		}
		segments = append(segments, ReplaySegment{ID: id, Handle: h, Header: hdr})
	}

	reader := New(dev, NewBlockScanner(), Options{Config: cfg})

	var got [][]byte
	handler := func(ctx context.Context, seq JournalSeq, deltas []DeltaInfo, data []byte) error {
		if len(deltas) != 1 {
			t.Fatalf("expected 1 delta per record, got %d", len(deltas))
		}
		got = append(got, append([]byte(nil), deltas[0]...))
		return nil
	}

	last, err := reader.Replay(ctx, segments, handler)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last.SegmentSeq != 3 {
		t.Fatalf("Replay returned last.SegmentSeq = %d, want 3", last.SegmentSeq)
	}

	if len(got) != len(sent) {
		t.Fatalf("replayed %d records, want %d", len(got), len(sent))
	}
	for i := range sent {
		if string(got[i]) != string(sent[i]) {
			t.Fatalf("record %d = %q, want %q", i, got[i], sent[i])
		}
	}
}

// TestReplayTreatsNewestTornTailAsEndOfJournal simulates a crash mid-write:
// the newest segment's last record is corrupted (as a partially landed
// write would be), and replay should stop there instead of failing.
func TestReplayTreatsNewestTornTailAsEndOfJournal(t *testing.T) {
	ctx := context.Background()
	dev := memdevice.New(512, 64)
	ids := []SegmentID{1, 2}

	cfg := Config{IODepthLimit: 4, BatchCapacity: 1, BatchFlushSize: 128}
	writer := New(dev, NewBlockScanner(), Options{Config: cfg})
	writer.SetSegmentProvider(roundrobin.New(ids))

	if _, err := writer.OpenForWrite(ctx); err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec := Record{Deltas: []DeltaInfo{DeltaInfo(fmt.Sprintf("rec-%d", i))}}
		if _, _, err := writer.SubmitRecord(ctx, rec, noop.Handle{}); err != nil {
			t.Fatalf("SubmitRecord %d: %v", i, err)
		}
	}
	if err := writer.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h, err := dev.Open(ctx, 1)
	if err != nil {
		t.Fatalf("open segment 1: %v", err)
	}
	// Tear the second record's header: flip the first byte of the second
	// record's header (its MDLength field), just past the region the first
	// record occupies, so its metadata checksum no longer matches.
	tornOffset := SegmentOffset(64 + 128) // header + first 128-byte record
	buf, err := h.ReadAt(ctx, tornOffset, 1)
	if err != nil {
		t.Fatalf("read torn byte: %v", err)
	}
	buf[0] ^= 0xff
	if err := h.Write(ctx, tornOffset, buf); err != nil {
		t.Fatalf("write torn byte: %v", err)
	}

	buf0, err := h.ReadAt(ctx, 0, segmentHeaderSize)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	hdr, ok := decodeSegmentHeader(buf0)
	if !ok {
		t.Fatalf("header failed to decode")
	}

	reader := New(dev, NewBlockScanner(), Options{Config: cfg})
	var got int
	handler := func(ctx context.Context, seq JournalSeq, deltas []DeltaInfo, data []byte) error {
		got++
		return nil
	}

	last, err := reader.Replay(ctx, []ReplaySegment{{ID: 1, Handle: h, Header: hdr}}, handler)
	if err != nil {
		t.Fatalf("Replay returned error for a torn tail in the newest segment: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected replay to stop after the one intact record, got %d records", got)
	}
	if last.Addr.SegmentID != 1 {
		t.Fatalf("last.Addr.SegmentID = %d, want 1", last.Addr.SegmentID)
	}
}
