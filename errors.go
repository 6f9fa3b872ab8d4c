package bptree

import (
	"errors"
	"fmt"
)

// Error kinds. NoSpace signals a page-level mutation that
// doesn't fit (the caller decides whether to split); NotFound signals a
// missing key or key/value pair; InvalidArgument is returned for a
// malformed key (too long, or containing a NUL byte) and for a cursor or
// scan DeleteCurrent with no current entry; slot indexes and record
// lengths read from a page are not validated. Done names the exhausted
// state of a scan or cursor, but Cursor.Next and Scan.Next report
// exhaustion by returning ok=false and never return ErrDone.
var (
	ErrNoSpace         = errors.New("bptree: no space on page")
	ErrNotFound        = errors.New("bptree: key or value not found")
	ErrInvalidArgument = errors.New("bptree: invalid argument")
	ErrDone            = errors.New("bptree: no more elements")
)

// BufferMgrError wraps a failure from the external buffer manager or
// paged store. It is always terminal for the current operation: the tree
// never partially completes a structural change above the page level.
type BufferMgrError struct {
	Op  string
	Pid PageID
	Err error
}

func (e *BufferMgrError) Error() string {
	return fmt.Sprintf("bptree: buffer manager %s(page %d): %v", e.Op, e.Pid, e.Err)
}

func (e *BufferMgrError) Unwrap() error { return e.Err }

func wrapBufMgrErr(op string, pid PageID, err error) error {
	if err == nil {
		return nil
	}
	return &BufferMgrError{Op: op, Pid: pid, Err: err}
}
