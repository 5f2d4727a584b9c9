package blockfile

import (
	"bytes"
	"context"
	"testing"

	journal "github.com/andreyvit/swjournal"
)

func TestWriteReadRoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := New(dir, 512, 64, nil)

	h, err := d.Open(ctx, journal.SegmentID(7))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("on disk")
	if err := h.Write(ctx, 64, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := d.Open(ctx, journal.SegmentID(7))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()
	got, err := h2.ReadAt(ctx, 64, len(payload))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadAt = %q, want %q", got, payload)
	}
	if h2.WriteCapacity() != 512 {
		t.Fatalf("WriteCapacity = %d, want 512", h2.WriteCapacity())
	}
}

func TestWriteOutOfBoundsRejected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := New(dir, 512, 64, nil)

	h, err := d.Open(ctx, journal.SegmentID(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()
	if err := h.Write(ctx, 500, make([]byte, 100)); err == nil {
		t.Fatalf("expected an out-of-bounds write to fail")
	}
}
