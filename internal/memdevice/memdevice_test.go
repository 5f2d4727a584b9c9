package memdevice

import (
	"bytes"
	"context"
	"testing"

	journal "github.com/andreyvit/swjournal"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New(256, 64)

	h, err := d.Open(ctx, journal.SegmentID(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("hello segment")
	if err := h.Write(ctx, 64, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := h.ReadAt(ctx, 64, len(payload))
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadAt = %q, want %q", got, payload)
	}
}

func TestWriteOutOfBoundsRejected(t *testing.T) {
	ctx := context.Background()
	d := New(256, 64)
	h, err := d.Open(ctx, journal.SegmentID(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Write(ctx, 200, make([]byte, 100)); err == nil {
		t.Fatalf("expected an out-of-bounds write to fail")
	}
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	d := New(256, 64)

	h1, err := d.Open(ctx, journal.SegmentID(5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h1.Write(ctx, 0, []byte("persisted")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := d.Open(ctx, journal.SegmentID(5))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := h2.ReadAt(ctx, 0, len("persisted"))
	if err != nil {
		t.Fatalf("ReadAt after reopen: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("ReadAt after reopen = %q, want %q", got, "persisted")
	}
}

func TestWriteAfterCloseRejected(t *testing.T) {
	ctx := context.Background()
	d := New(256, 64)
	h, err := d.Open(ctx, journal.SegmentID(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Write(ctx, 0, []byte("x")); err == nil {
		t.Fatalf("expected write after close to fail")
	}
}
