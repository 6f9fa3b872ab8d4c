package bptree

import "go.uber.org/zap"

// Scan is a range iterator over a tree's leaf chain. It holds exactly
// one leaf pinned between calls to Next, walking the doubly-linked leaf
// chain as each page is exhausted, and enforces the inclusive [low,
// high] bound (either end nil for an open bound).
type Scan struct {
	tree *Tree
	low  *string
	high *string

	pid    PageID
	leaf   *KVPage[RecordID]
	cur    *Cursor[RecordID]
	opened bool
	done   bool
	dirty  bool
}

// OpenScan starts a range scan over [low, high], either bound nil for
// unbounded. The first matching leaf is located and pinned immediately so
// that Next need only ever hold the page(s) spanning the current
// position.
func (t *Tree) OpenScan(low, high *string) (*Scan, error) {
	s := &Scan{tree: t, low: low, high: high}

	var pid PageID
	var err error
	if low != nil {
		pid, err = t.descendToLeaf(*low)
	} else {
		pid, err = t.leftmostLeaf()
	}
	if err == ErrNotFound {
		s.done = true
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.pinLeaf(pid); err != nil {
		return nil, err
	}
	if low != nil {
		s.seekLow(*low)
	}
	s.opened = true
	return s, nil
}

// seekLow positions cur at the first key on the current leaf that is >=
// low: the exact match if present, otherwise one slot past the largest
// key < low (which may be past the last slot, meaning this leaf has
// nothing in range and the first Next call moves on to the next leaf).
// KVPage.Search instead finds the floor (largest key <= target), which
// fits index descent but not a scan's inclusive lower bound, so this is
// deliberately separate.
func (s *Scan) seekLow(low string) {
	found := s.leaf.FindKey(low)
	s.cur.read, s.cur.done = false, false
	switch found.Result {
	case FindFound:
		s.cur.slot, s.cur.val = found.Slot, 0
	case FindLessThan:
		s.cur.slot, s.cur.val = found.Slot+1, 0
	case FindBelowMin:
		s.cur.slot, s.cur.val = 0, 0
	}
}

func (s *Scan) pinLeaf(pid PageID) error {
	buf, err := s.tree.bufMgr.Pin(toIfacePid(pid))
	if err != nil {
		return wrapBufMgrErr("Pin", pid, err)
	}
	s.pid = pid
	s.leaf = NewKVPage[RecordID](buf)
	s.cur = s.leaf.OpenCursor()
	s.dirty = false
	return nil
}

// unpinLeaf releases the held leaf, unpinning it dirty if DeleteCurrent
// touched it since it was pinned.
func (s *Scan) unpinLeaf() error {
	if s.leaf == nil {
		return nil
	}
	err := s.tree.bufMgr.Unpin(toIfacePid(s.pid), s.dirty)
	s.leaf = nil
	s.cur = nil
	s.dirty = false
	if err != nil {
		return wrapBufMgrErr("Unpin", s.pid, err)
	}
	return nil
}

// Next returns the next (key, rid) pair in the scan's range, advancing
// across leaf boundaries as needed. ok is false once the range or the
// leaf chain is exhausted.
func (s *Scan) Next() (ok bool, key string, rid RecordID) {
	var zero RecordID
	if s.done {
		return false, "", zero
	}

	for {
		ok, k, v := s.cur.Next()
		if !ok {
			next := s.leaf.NextPage()
			if err := s.unpinLeaf(); err != nil {
				s.done = true
				s.tree.log.Error("scan: unpin failed", zap.Error(err))
				return false, "", zero
			}
			if next == InvalidPage {
				s.done = true
				return false, "", zero
			}
			if err := s.pinLeaf(next); err != nil {
				s.done = true
				s.tree.log.Error("scan: pin failed", zap.Error(err))
				return false, "", zero
			}
			continue
		}
		if s.high != nil && k > *s.high {
			s.done = true
			s.unpinLeaf()
			return false, "", zero
		}
		return true, k, v
	}
}

// DeleteCurrent removes the pair last returned by Next. The held leaf is
// unpinned dirty when it is next released, since this mutates its buffer.
func (s *Scan) DeleteCurrent() error {
	if s.cur == nil {
		return ErrInvalidArgument
	}
	if err := s.cur.DeleteCurrent(); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Close releases the scan's pinned leaf, if any. Safe to call multiple
// times and after exhaustion.
func (s *Scan) Close() error {
	s.done = true
	return s.unpinLeaf()
}
