package journal

import "fmt"

var (
	// ErrIOError is returned when the device, segment provider, or scanner
	// reported a failure. Once it surfaces to a submitter, the journal is
	// unsafe for further writes until it is reopened.
	ErrIOError = fmt.Errorf("journal: io error")

	// ErrRange is returned when a single record, even alone, exceeds
	// get_max_write_length. The journal remains usable; only that
	// submission failed.
	ErrRange = fmt.Errorf("journal: record exceeds max write length")

	// ErrClosed is returned by SubmitRecord and OpenForWrite once Close has
	// been called, and by JSM writes when no segment is open for writing.
	ErrClosed = fmt.Errorf("journal: closed")

	// ErrNotOpen is returned by operations that require OpenForWrite to
	// have completed successfully first.
	ErrNotOpen = fmt.Errorf("journal: not open for write")

	// ErrTornSegment is returned by Replay when a record fails to decode or
	// validate in any segment other than the newest one; such a failure in
	// the newest segment is treated as its torn tail and is not an error.
	ErrTornSegment = fmt.Errorf("journal: torn segment")

	// ErrDuplicateSegmentSeq is returned by Replay when two segments in
	// the input carry the same segment_seq.
	ErrDuplicateSegmentSeq = fmt.Errorf("journal: duplicate segment sequence")

	// errNoSegmentProvider is wrapped into ErrIOError when roll is
	// attempted before SetSegmentProvider has been called.
	errNoSegmentProvider = fmt.Errorf("journal: no segment provider configured")

	// errCorruptedTail names a decode failure at the torn tail of the last
	// live segment. No code path in this package returns it: replaySegment
	// tells a torn tail from corruption by whether the segment is the
	// newest one being replayed.
	errCorruptedTail = fmt.Errorf("journal: corrupted tail")
)

// WriteError wraps a device failure observed while writing or rolling a
// segment. It unwraps to both the underlying cause and to ErrIOError, so
// callers can match with errors.Is(err, journal.ErrIOError).
type WriteError struct {
	Op    string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("journal: %s failed: %v", e.Op, e.Cause)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrIOError, e.Cause}
}

func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Cause: err}
}
